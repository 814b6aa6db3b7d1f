//go:build unix

package reader

import (
	"github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"
	"golang.org/x/sys/unix"
)

func devInode(path string) checkpoint.DevInode {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return checkpoint.DevInode{}
	}
	return checkpoint.DevInode{Dev: uint64(st.Dev), Inode: uint64(st.Ino)}
}
