package fat32

import "github.com/levkropp/survivalfs"

// decodeUTF16LE is the shared decode path long filenames go through,
// same as exfat and ntfs use for their own on-disk UTF-16 names.
func decodeUTF16LE(raw []byte) string {
	return survivalfs.DecodeUTF16LE(raw)
}
