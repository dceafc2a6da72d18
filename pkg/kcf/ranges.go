package kcf

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
)

// CalibRangesVersion is the on-disk version of the calibration ranges section.
const CalibRangesVersion uint32 = 1

const (
	calibHeaderSize = 24
	calibEntrySize  = 16
)

// CalibRange is one observed activation range for a graph node.
type CalibRange struct {
	Node string
	Min  float32
	Max  float32
}

// ParseCalibRangesSection decodes a calibration ranges section payload into
// a node-name keyed map.
func ParseCalibRangesSection(sec []byte) (map[string]CalibRange, error) {
	if len(sec) < calibHeaderSize {
		return nil, ErrCorruptFile
	}
	version := binary.LittleEndian.Uint32(sec[0:4])
	if version != CalibRangesVersion {
		return nil, ErrUnsupportedVersion
	}
	count := binary.LittleEndian.Uint32(sec[4:8])
	stringsOff := binary.LittleEndian.Uint64(sec[8:16])
	stringsSize := binary.LittleEndian.Uint64(sec[16:24])

	secLen := uint64(len(sec))
	entryBytes, ok := mulUint64(uint64(count), calibEntrySize)
	if !ok {
		return nil, ErrCorruptFile
	}
	entriesEnd := uint64(calibHeaderSize) + entryBytes
	if entriesEnd > secLen {
		return nil, ErrCorruptFile
	}
	if stringsOff > secLen || stringsOff+stringsSize > secLen {
		return nil, ErrCorruptFile
	}

	out := make(map[string]CalibRange, count)
	for i := uint64(0); i < uint64(count); i++ {
		base := uint64(calibHeaderSize) + i*calibEntrySize
		b := sec[base : base+calibEntrySize]

		nameOff := binary.LittleEndian.Uint32(b[0:4])
		nameLen := binary.LittleEndian.Uint32(b[4:8])
		minBits := binary.LittleEndian.Uint32(b[8:12])
		maxBits := binary.LittleEndian.Uint32(b[12:16])

		nEnd := uint64(nameOff) + uint64(nameLen)
		if nEnd > stringsSize {
			return nil, ErrCorruptFile
		}
		name := string(sec[stringsOff+uint64(nameOff) : stringsOff+nEnd])
		out[name] = CalibRange{
			Node: name,
			Min:  math.Float32frombits(minBits),
			Max:  math.Float32frombits(maxBits),
		}
	}
	return out, nil
}

// EncodeCalibRangesSection builds a calibration ranges section payload (v1).
// Entries are written in node-name order for determinism.
func EncodeCalibRangesSection(ranges map[string]CalibRange) ([]byte, error) {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		if name == "" {
			return nil, errors.New("kcf: calibration range node name must be non-empty")
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var stringBlob []byte
	entriesBytes := uint64(len(names)) * calibEntrySize
	stringsOff := uint64(calibHeaderSize) + entriesBytes

	type entry struct {
		nameOff, nameLen uint32
		min, max         float32
	}
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		r := ranges[name]
		entries = append(entries, entry{
			nameOff: uint32(len(stringBlob)),
			nameLen: uint32(len(name)),
			min:     r.Min,
			max:     r.Max,
		})
		stringBlob = append(stringBlob, name...)
	}

	out := make([]byte, stringsOff+uint64(len(stringBlob)))
	binary.LittleEndian.PutUint32(out[0:4], CalibRangesVersion)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(entries)))
	binary.LittleEndian.PutUint64(out[8:16], stringsOff)
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(stringBlob)))

	off := calibHeaderSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(out[off+0:off+4], e.nameOff)
		binary.LittleEndian.PutUint32(out[off+4:off+8], e.nameLen)
		binary.LittleEndian.PutUint32(out[off+8:off+12], math.Float32bits(e.min))
		binary.LittleEndian.PutUint32(out[off+12:off+16], math.Float32bits(e.max))
		off += calibEntrySize
	}

	copy(out[int(stringsOff):], stringBlob)
	return out, nil
}
