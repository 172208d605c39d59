//go:build !windows

package scan

import (
	"io/fs"
	"strconv"
	"syscall"
)

// lookup returns the owner and group names of a file
func (c *ownerCache) lookup(info fs.FileInfo) (string, string) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "-", "-"
	}
	uid := strconv.FormatUint(uint64(st.Uid), 10)
	gid := strconv.FormatUint(uint64(st.Gid), 10)
	return c.userName(uid), c.groupName(gid)
}
