package kcf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// TensorIndexVersion is the on-disk version of the tensor index section payload.
const TensorIndexVersion uint32 = 1

const (
	tensorIndexHeaderSize = 48
	tensorIndexEntrySize  = 40
)

// DType identifies the tensor element encoding.
// Keep these stable forever; add new values only.
type DType uint32

const (
	DTypeUnknown DType = iota
	DTypeF32
	DTypeI8
)

// ElemSize returns the byte size of one element, or 0 if unknown.
func (d DType) ElemSize() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeI8:
		return 1
	default:
		return 0
	}
}

// TensorIndexHeader describes the on-disk layout of the tensor index section.
// Table offsets are relative to the start of the section payload.
type TensorIndexHeader struct {
	Version     uint32
	Flags       uint32
	TensorCount uint32
	DimsCount   uint32 // total number of uint64 dims in the dims table

	EntriesOff  uint64 // []entry (TensorCount)
	DimsOff     uint64 // []uint64 (DimsCount)
	StringsOff  uint64 // []byte (StringsSize)
	StringsSize uint64
}

// tensorIndexFlagSorted means entries are sorted by raw name bytes ascending,
// enabling binary-search lookup without building a map.
const tensorIndexFlagSorted uint32 = 1 << 0

// TensorEntry is the fixed-size record for a tensor. Name bytes live in the
// strings table, shape dims in the dims table. DataOff is relative to the
// start of the TensorData section payload.
type TensorEntry struct {
	NameOff uint32
	NameLen uint32

	DType DType
	Rank  uint32

	DimOff uint32 // index into dims table (uint64 elements)

	DataOff  uint64
	DataSize uint64
}

// TensorIndex is a parsed view over a tensor index section payload.
// It keeps a reference to the raw section bytes (usually the mmap).
type TensorIndex struct {
	raw []byte
	hdr TensorIndexHeader
}

// TensorRecord is the input to EncodeTensorIndexSection.
type TensorRecord struct {
	Name  string
	DType DType
	Shape []uint64

	// Offsets relative to the TensorData section payload:
	DataOff  uint64
	DataSize uint64
}

// ParseTensorIndexSection validates and returns a view over a tensor index
// section payload. Pass it File.SectionData(File.Section(SectionTensorIndex)).
func ParseTensorIndexSection(sec []byte) (*TensorIndex, error) {
	if len(sec) < tensorIndexHeaderSize {
		return nil, ErrCorruptFile
	}

	h := TensorIndexHeader{
		Version:     binary.LittleEndian.Uint32(sec[0:4]),
		Flags:       binary.LittleEndian.Uint32(sec[4:8]),
		TensorCount: binary.LittleEndian.Uint32(sec[8:12]),
		DimsCount:   binary.LittleEndian.Uint32(sec[12:16]),
		EntriesOff:  binary.LittleEndian.Uint64(sec[16:24]),
		DimsOff:     binary.LittleEndian.Uint64(sec[24:32]),
		StringsOff:  binary.LittleEndian.Uint64(sec[32:40]),
		StringsSize: binary.LittleEndian.Uint64(sec[40:48]),
	}
	if h.Version != TensorIndexVersion {
		return nil, ErrUnsupportedVersion
	}
	if h.TensorCount == 0 {
		return nil, ErrCorruptFile
	}

	secLen := uint64(len(sec))
	entriesBytes, ok := mulUint64(uint64(h.TensorCount), tensorIndexEntrySize)
	if !ok {
		return nil, ErrCorruptFile
	}
	dimsBytes, ok := mulUint64(uint64(h.DimsCount), 8)
	if !ok {
		return nil, ErrCorruptFile
	}
	if h.EntriesOff > secLen || h.EntriesOff+entriesBytes > secLen {
		return nil, ErrCorruptFile
	}
	if h.DimsOff > secLen || h.DimsOff+dimsBytes > secLen {
		return nil, ErrCorruptFile
	}
	if h.StringsOff > secLen || h.StringsOff+h.StringsSize > secLen {
		return nil, ErrCorruptFile
	}

	// Validate each entry's name and shape references.
	for i := uint32(0); i < h.TensorCount; i++ {
		e, err := readTensorEntry(sec, h.EntriesOff, i)
		if err != nil {
			return nil, ErrCorruptFile
		}
		if uint64(e.NameOff)+uint64(e.NameLen) > h.StringsSize {
			return nil, ErrCorruptFile
		}
		if e.Rank > 0 && uint64(e.DimOff)+uint64(e.Rank) > uint64(h.DimsCount) {
			return nil, ErrCorruptFile
		}
	}

	return &TensorIndex{raw: sec, hdr: h}, nil
}

func readTensorEntry(sec []byte, entriesOff uint64, i uint32) (TensorEntry, error) {
	base := entriesOff + uint64(i)*tensorIndexEntrySize
	end := base + tensorIndexEntrySize
	if end > uint64(len(sec)) {
		return TensorEntry{}, ErrCorruptFile
	}
	b := sec[base:end]
	return TensorEntry{
		NameOff:  binary.LittleEndian.Uint32(b[0:4]),
		NameLen:  binary.LittleEndian.Uint32(b[4:8]),
		DType:    DType(binary.LittleEndian.Uint32(b[8:12])),
		Rank:     binary.LittleEndian.Uint32(b[12:16]),
		DimOff:   binary.LittleEndian.Uint32(b[16:20]),
		DataOff:  binary.LittleEndian.Uint64(b[24:32]),
		DataSize: binary.LittleEndian.Uint64(b[32:40]),
	}, nil
}

func (ti *TensorIndex) Count() int {
	return int(ti.hdr.TensorCount)
}

func (ti *TensorIndex) Entry(i int) (TensorEntry, error) {
	if i < 0 || i >= int(ti.hdr.TensorCount) {
		return TensorEntry{}, ErrCorruptFile
	}
	return readTensorEntry(ti.raw, ti.hdr.EntriesOff, uint32(i))
}

func (ti *TensorIndex) nameBytes(i int) ([]byte, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	off := ti.hdr.StringsOff + uint64(e.NameOff)
	end := off + uint64(e.NameLen)
	if end > ti.hdr.StringsOff+ti.hdr.StringsSize || end > uint64(len(ti.raw)) {
		return nil, ErrCorruptFile
	}
	return ti.raw[off:end], nil
}

func (ti *TensorIndex) Name(i int) (string, error) {
	b, err := ti.nameBytes(i)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (ti *TensorIndex) Shape(i int) ([]uint64, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	if e.Rank == 0 {
		return nil, nil
	}
	out := make([]uint64, 0, e.Rank)
	for d := uint32(0); d < e.Rank; d++ {
		idx := e.DimOff + d
		if idx >= ti.hdr.DimsCount {
			return nil, ErrCorruptFile
		}
		base := ti.hdr.DimsOff + uint64(idx)*8
		if base+8 > uint64(len(ti.raw)) {
			return nil, ErrCorruptFile
		}
		out = append(out, binary.LittleEndian.Uint64(ti.raw[base:base+8]))
	}
	return out, nil
}

// Find returns the entry index for the given tensor name.
// If the index is sorted, this is O(log n); otherwise a linear scan.
func (ti *TensorIndex) Find(name string) (int, bool) {
	if ti == nil {
		return -1, false
	}
	key := []byte(name)

	if ti.hdr.Flags&tensorIndexFlagSorted != 0 {
		n := int(ti.hdr.TensorCount)
		i := sort.Search(n, func(i int) bool {
			nb, err := ti.nameBytes(i)
			if err != nil {
				return true
			}
			return bytes.Compare(nb, key) >= 0
		})
		if i < n {
			nb, err := ti.nameBytes(i)
			if err == nil && bytes.Equal(nb, key) {
				return i, true
			}
		}
		return -1, false
	}

	for i := 0; i < int(ti.hdr.TensorCount); i++ {
		nb, err := ti.nameBytes(i)
		if err != nil {
			return -1, false
		}
		if bytes.Equal(nb, key) {
			return i, true
		}
	}
	return -1, false
}

// TensorData returns a zero-copy view of the tensor payload bytes within the
// TensorData section payload.
func (ti *TensorIndex) TensorData(dataSec []byte, i int) ([]byte, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	end := e.DataOff + e.DataSize
	if end < e.DataOff || end > uint64(len(dataSec)) {
		return nil, ErrCorruptFile
	}
	return dataSec[e.DataOff:end], nil
}

// EncodeTensorIndexSection builds a tensor index section payload (v1).
// Records are sorted by name and the sorted flag is set.
func EncodeTensorIndexSection(records []TensorRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("kcf: tensor index requires at least one record")
	}

	recs := make([]TensorRecord, len(records))
	copy(recs, records)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	var (
		dims       []uint64
		stringBlob []byte
		entries    = make([]TensorEntry, 0, len(recs))
	)
	for _, r := range recs {
		if r.Name == "" {
			return nil, errors.New("kcf: tensor name must be non-empty")
		}
		nameOff := uint32(len(stringBlob))
		stringBlob = append(stringBlob, r.Name...)

		dimOff := uint32(len(dims))
		dims = append(dims, r.Shape...)

		entries = append(entries, TensorEntry{
			NameOff:  nameOff,
			NameLen:  uint32(len(r.Name)),
			DType:    r.DType,
			Rank:     uint32(len(r.Shape)),
			DimOff:   dimOff,
			DataOff:  r.DataOff,
			DataSize: r.DataSize,
		})
	}

	hdr := TensorIndexHeader{
		Version:     TensorIndexVersion,
		Flags:       tensorIndexFlagSorted,
		TensorCount: uint32(len(entries)),
		DimsCount:   uint32(len(dims)),
	}
	hdr.EntriesOff = tensorIndexHeaderSize
	hdr.DimsOff = hdr.EntriesOff + tensorIndexEntrySize*uint64(len(entries))
	hdr.StringsOff = hdr.DimsOff + uint64(len(dims))*8
	hdr.StringsSize = uint64(len(stringBlob))

	out := make([]byte, int(hdr.StringsOff+hdr.StringsSize))

	binary.LittleEndian.PutUint32(out[0:4], hdr.Version)
	binary.LittleEndian.PutUint32(out[4:8], hdr.Flags)
	binary.LittleEndian.PutUint32(out[8:12], hdr.TensorCount)
	binary.LittleEndian.PutUint32(out[12:16], hdr.DimsCount)
	binary.LittleEndian.PutUint64(out[16:24], hdr.EntriesOff)
	binary.LittleEndian.PutUint64(out[24:32], hdr.DimsOff)
	binary.LittleEndian.PutUint64(out[32:40], hdr.StringsOff)
	binary.LittleEndian.PutUint64(out[40:48], hdr.StringsSize)

	ep := int(hdr.EntriesOff)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(out[ep+0:ep+4], e.NameOff)
		binary.LittleEndian.PutUint32(out[ep+4:ep+8], e.NameLen)
		binary.LittleEndian.PutUint32(out[ep+8:ep+12], uint32(e.DType))
		binary.LittleEndian.PutUint32(out[ep+12:ep+16], e.Rank)
		binary.LittleEndian.PutUint32(out[ep+16:ep+20], e.DimOff)
		// ep+20..ep+24 reserved
		binary.LittleEndian.PutUint64(out[ep+24:ep+32], e.DataOff)
		binary.LittleEndian.PutUint64(out[ep+32:ep+40], e.DataSize)
		ep += tensorIndexEntrySize
	}

	dp := int(hdr.DimsOff)
	for _, d := range dims {
		binary.LittleEndian.PutUint64(out[dp:dp+8], d)
		dp += 8
	}

	copy(out[int(hdr.StringsOff):], stringBlob)
	return out, nil
}
