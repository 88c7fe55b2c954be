//go:build linux

package lock

import (
	"fmt"
	"syscall"
)

// remoteMounts maps statfs f_type to a name for mounts whose flock is not
// coordinated across hosts.
var remoteMounts = map[uint32]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smb",
	0xFE534D42: "smb2",
	0x5346414F: "afs",
	0x00C36400: "ceph",
	0x01021997: "9p",
}

func remoteMount(path string) (string, bool, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", false, fmt.Errorf("statfs %q: %w", path, err)
	}
	magic := uint32(st.Type)
	if name, ok := remoteMounts[magic]; ok {
		return name, true, nil
	}
	return fmt.Sprintf("0x%x", magic), false, nil
}
