//go:build darwin

package lock

import (
	"fmt"
	"syscall"
)

var remoteMounts = map[string]bool{
	"afpfs":  true,
	"nfs":    true,
	"smbfs":  true,
	"webdav": true,
}

func remoteMount(path string) (string, bool, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", false, fmt.Errorf("statfs %q: %w", path, err)
	}
	var b []byte
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	name := string(b)
	return name, remoteMounts[name], nil
}
