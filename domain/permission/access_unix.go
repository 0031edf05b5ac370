//go:build unix

package permission

import "golang.org/x/sys/unix"

// accessible checks read/write access with the real uid, like access(2).
func accessible(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}
