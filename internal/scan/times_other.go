//go:build !linux

package scan

import (
	"io/fs"
	"time"
)

// fileTimes falls back to the modification time
func fileTimes(info fs.FileInfo) (accessed, created time.Time) {
	mtime := info.ModTime().UTC()
	return mtime, mtime
}
