package datarun_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs/datarun"
)

func TestDecodeSingleRun(t *testing.T) {
	// Header 0x21: length-size 1, offset-size 2. Length=0x10, offset=+0x0100.
	raw := []byte{0x21, 0x10, 0x00, 0x01, 0x00}

	extents, err := datarun.Decode(raw, 16)
	require.NoError(t, err)
	require.Len(t, extents, 1)
	assert.EqualValues(t, 0, extents[0].VCN)
	assert.EqualValues(t, 0x100, extents[0].LCN)
	assert.EqualValues(t, 0x10, extents[0].Length)
}

func TestDecodeMultipleRunsAscendingVCN(t *testing.T) {
	raw := []byte{
		0x21, 0x10, 0x00, 0x01, // run 1: length 0x10, LCN +0x100
		0x11, 0x08, 0xFE, // run 2: length 8, offset -2 -> LCN 0xFE
		0x00, // terminator
	}

	extents, err := datarun.Decode(raw, 16)
	require.NoError(t, err)
	require.Len(t, extents, 2)

	assert.EqualValues(t, 0, extents[0].VCN)
	assert.EqualValues(t, 0x10, extents[1].VCN)
	assert.EqualValues(t, 0x100, extents[0].LCN)
	assert.EqualValues(t, 0xFE, extents[1].LCN)
}

func TestDecodeSparseRun(t *testing.T) {
	// Header 0x01: length-size 1, offset-size 0 -> sparse run.
	raw := []byte{0x01, 0x20, 0x00}

	extents, err := datarun.Decode(raw, 16)
	require.NoError(t, err)
	require.Len(t, extents, 1)
	assert.True(t, extents[0].IsSparse())
	assert.EqualValues(t, 0, extents[0].LCN)
	assert.EqualValues(t, 0x20, extents[0].Length)
}

func TestDecodeRejectsZeroLengthSize(t *testing.T) {
	raw := []byte{0x10, 0x00}
	_, err := datarun.Decode(raw, 16)
	assert.Error(t, err)
}

func TestDecodeNegativeDeltaSignExtends(t *testing.T) {
	// First run establishes LCN=0x500. Second run's 1-byte offset 0xF0
	// must sign-extend to -16, giving LCN = 0x500 - 16 = 0x4F0.
	raw := []byte{
		0x22, 0x10, 0x00, 0x00, 0x05, // length 0x10 (2 bytes), offset +0x500 (2 bytes)
		0x11, 0x08, 0xF0, // length 8, offset size 1, -16
		0x00,
	}

	extents, err := datarun.Decode(raw, 16)
	require.NoError(t, err)
	require.Len(t, extents, 2)
	assert.EqualValues(t, 0x500, extents[0].LCN)
	assert.EqualValues(t, 0x4F0, extents[1].LCN)
}

func TestDecodeRespectsMaxExtents(t *testing.T) {
	raw := []byte{
		0x01, 0x01,
		0x01, 0x01,
		0x01, 0x01,
	}
	extents, err := datarun.Decode(raw, 2)
	require.NoError(t, err)
	assert.Len(t, extents, 2)
}
