package exfat

import (
	"encoding/binary"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/levkropp/survivalfs/fserrors"
)

// buildEntrySet assembles a File entry (0x85) + Stream Extension (0xC0) +
// one or more Name entries (0xC1) for the given name and stream metadata,
// computes and patches in the entry-set checksum, and returns the raw
// bytes ready to be written into a directory.
func buildEntrySet(name string, attrs uint16, firstCluster ClusterID, dataLength, validDataLength uint64, noFatChain bool) ([]byte, fserrors.DriverError) {
	nameUnits := encodeNameUTF16(name)
	if len(nameUnits) == 0 || len(nameUnits) > 255 {
		return nil, fserrors.ErrInvalidArgument.WithMessage("name length out of range")
	}

	nameEntryCount := (len(nameUnits) + 14) / 15
	secondaryCount := 1 + nameEntryCount
	buf := make([]byte, (1+secondaryCount)*entrySize)
	w := bytewriter.New(buf)

	now := time.Now()
	ts := encodeTimestamp(now)

	// File entry.
	binary.Write(w, binary.LittleEndian, entryTypeFile)
	binary.Write(w, binary.LittleEndian, uint8(secondaryCount))
	binary.Write(w, binary.LittleEndian, uint16(0)) // checksum placeholder
	binary.Write(w, binary.LittleEndian, attrs)
	binary.Write(w, binary.LittleEndian, uint16(0)) // reserved1
	binary.Write(w, binary.LittleEndian, ts)         // create
	binary.Write(w, binary.LittleEndian, ts)         // last modified
	binary.Write(w, binary.LittleEndian, ts)         // last accessed
	binary.Write(w, binary.LittleEndian, uint8(0))   // create 10ms
	binary.Write(w, binary.LittleEndian, uint8(0))   // modified 10ms
	binary.Write(w, binary.LittleEndian, uint8(0))   // create utc offset
	binary.Write(w, binary.LittleEndian, uint8(0))   // modified utc offset
	binary.Write(w, binary.LittleEndian, uint8(0))   // accessed utc offset
	binary.Write(w, binary.LittleEndian, [7]byte{})  // reserved2

	// Stream Extension entry.
	var streamFlags uint8
	if firstCluster != 0 {
		streamFlags |= streamFlagAllocationPossible
	}
	if noFatChain {
		streamFlags |= streamFlagNoFatChain
	}
	binary.Write(w, binary.LittleEndian, entryTypeStreamExtension)
	binary.Write(w, binary.LittleEndian, streamFlags)
	binary.Write(w, binary.LittleEndian, uint8(0)) // reserved1
	binary.Write(w, binary.LittleEndian, uint8(len(nameUnits)))
	binary.Write(w, binary.LittleEndian, nameHash(nameUnits))
	binary.Write(w, binary.LittleEndian, uint16(0)) // reserved2
	binary.Write(w, binary.LittleEndian, validDataLength)
	binary.Write(w, binary.LittleEndian, uint32(0)) // reserved3
	binary.Write(w, binary.LittleEndian, uint32(firstCluster))
	binary.Write(w, binary.LittleEndian, dataLength)

	// Name entries, 15 UTF-16 code units apiece, zero-padded.
	for i := 0; i < nameEntryCount; i++ {
		binary.Write(w, binary.LittleEndian, entryTypeFileName)
		binary.Write(w, binary.LittleEndian, uint8(0)) // reserved
		var chunk [15]uint16
		for j := 0; j < 15; j++ {
			idx := i*15 + j
			if idx < len(nameUnits) {
				chunk[j] = nameUnits[idx]
			}
		}
		binary.Write(w, binary.LittleEndian, chunk)
	}

	entries := make([][]byte, 0, 1+secondaryCount)
	for i := 0; i < len(buf); i += entrySize {
		entries = append(entries, buf[i:i+entrySize])
	}
	checksum := entrySetChecksum(entries)
	binary.LittleEndian.PutUint16(buf[2:4], checksum)

	return buf, nil
}
