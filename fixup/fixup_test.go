package fixup_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs/fixup"
)

// buildProtectedRecord assembles a fixup-protected record the way an MFT
// record or INDX block would arrive on disk: the USA lives inline at
// usaOffset, and every sector's last two bytes are overwritten with the USV
// while the original bytes are tucked away in the USA itself.
func buildProtectedRecord(sectorSize, numSectors int, usaOffset int, usv uint16, original [][]byte) []byte {
	record := make([]byte, sectorSize*numSectors)

	binary.LittleEndian.PutUint16(record[usaOffset:], usv)
	for i, orig := range original {
		copy(record[usaOffset+2+i*2:], orig)
	}

	for i := 0; i < numSectors; i++ {
		tail := (i+1)*sectorSize - 2
		binary.LittleEndian.PutUint16(record[tail:], usv)
	}
	return record
}

func TestApplyRestoresOriginalBytes(t *testing.T) {
	original := [][]byte{{0x11, 0x22}, {0x33, 0x44}}
	record := buildProtectedRecord(512, 2, 48, 0xABCD, original)

	err := fixup.Apply(record, 512, 48, 3)
	require.NoError(t, err)

	require.Equal(t, byte(0x11), record[510])
	require.Equal(t, byte(0x22), record[511])
	require.Equal(t, byte(0x33), record[1022])
	require.Equal(t, byte(0x44), record[1023])
}

func TestApplyDetectsMismatch(t *testing.T) {
	original := [][]byte{{0x11, 0x22}, {0x33, 0x44}}
	record := buildProtectedRecord(512, 2, 48, 0xABCD, original)
	record[511] = 0xFF // corrupt the sector-tail signature

	err := fixup.Apply(record, 512, 48, 3)
	require.Error(t, err)
}

func TestApplyRejectsBadUsaCount(t *testing.T) {
	record := make([]byte, 1024)
	err := fixup.Apply(record, 512, 48, 5)
	require.Error(t, err)
}
