//go:build linux

package scan

import (
	"io/fs"
	"syscall"
	"time"
)

// fileTimes returns the access and status change times
func fileTimes(info fs.FileInfo) (accessed, created time.Time) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		mtime := info.ModTime().UTC()
		return mtime, mtime
	}
	return time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)).UTC(),
		time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec)).UTC()
}
