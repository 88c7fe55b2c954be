//go:build !darwin && !linux

package lock

import (
	"fmt"
	"runtime"
)

func remoteMount(string) (string, bool, error) {
	return "", false, fmt.Errorf("mount detection is unsupported on %s", runtime.GOOS)
}
