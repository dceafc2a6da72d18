// Package kcf implements the Kiln Container Format.
//
// KCF is a single-file, memory-mappable container for classifier model
// artifacts. It stores structure and data only: model hyperparameters,
// tensor payloads, quantization metadata, and calibration ranges. It never
// implies runtime behaviour.
package kcf

// KCF global constants must never change.
const (
	// MagicKCF is the file magic for all KCF containers, encoded as "KCF\0".
	MagicKCF = "KCF\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0
)

type SectionType uint32

const (
	SectionModelInfo   SectionType = 0x0001
	SectionQuantInfo   SectionType = 0x0002
	SectionTensorIndex SectionType = 0x0003
	SectionTensorData  SectionType = 0x0004
	SectionCalibRanges SectionType = 0x0005
	SectionTokenizer   SectionType = 0x0006
)

// Header is the fixed little-endian file header.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

// Section is one entry in the section directory. Offsets are absolute.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicKCF {
		return false
	}
	if h.HeaderSize < kcfHeaderSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}
