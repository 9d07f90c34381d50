package ntfs

import "github.com/levkropp/survivalfs"

// decodeUTF16LE is the shared UTF-16LE-to-ASCII path every on-disk NTFS
// name (attribute names, $FILE_NAME values, $VOLUME_NAME) goes through —
// the same decoder the exFAT driver uses for its own Name entries, per
// the uniform "case folds only in the ASCII range" rule.
func decodeUTF16LE(raw []byte) string {
	return survivalfs.DecodeUTF16LE(raw)
}
