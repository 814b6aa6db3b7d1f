//go:build !unix

package reader

import "github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"

// devInode is unknown on platforms without inodes; files are then tracked by
// path and signature only.
func devInode(string) checkpoint.DevInode {
	return checkpoint.DevInode{}
}
