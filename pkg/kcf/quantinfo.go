package kcf

import (
	"encoding/binary"
	"errors"
	"math"
)

// QuantInfoVersion is the on-disk version of the quant info section payload.
const QuantInfoVersion uint32 = 1

const (
	quantInfoHeaderSize = 40
	quantEntrySize      = 24
)

// QuantScheme defines how scales map onto a quantized tensor.
type QuantScheme uint8

const (
	SchemePerTensor  QuantScheme = 0 // one symmetric scale for the whole tensor
	SchemePerChannel QuantScheme = 1 // one symmetric scale per output row
)

// QuantFormat is the stored element encoding of a quantized tensor.
type QuantFormat uint8

const (
	FormatInt8 QuantFormat = 1
)

// QuantRecord describes one quantized tensor: which tensor, the scheme, and
// the dequantization scales. Tensors are referenced by name so records stay
// valid regardless of index ordering.
type QuantRecord struct {
	Name   string
	Scheme QuantScheme
	Format QuantFormat
	Scales []float32
}

// QuantInfo is a parsed view over a quant info section payload.
type QuantInfo struct {
	raw     []byte
	count   uint32
	entries uint64
	scales  uint64
	strings uint64
	strSize uint64
}

// ParseQuantInfoSection validates and returns a view over a quant info
// section payload.
func ParseQuantInfoSection(sec []byte) (*QuantInfo, error) {
	if len(sec) < quantInfoHeaderSize {
		return nil, ErrCorruptFile
	}
	version := binary.LittleEndian.Uint32(sec[0:4])
	if version != QuantInfoVersion {
		return nil, ErrUnsupportedVersion
	}
	count := binary.LittleEndian.Uint32(sec[4:8])
	entriesOff := binary.LittleEndian.Uint64(sec[8:16])
	scalesOff := binary.LittleEndian.Uint64(sec[16:24])
	stringsOff := binary.LittleEndian.Uint64(sec[24:32])
	stringsSize := binary.LittleEndian.Uint64(sec[32:40])

	secLen := uint64(len(sec))
	entryBytes, ok := mulUint64(uint64(count), quantEntrySize)
	if !ok {
		return nil, ErrCorruptFile
	}
	if entriesOff > secLen || entriesOff+entryBytes > secLen {
		return nil, ErrCorruptFile
	}
	if scalesOff > secLen || stringsOff > secLen || stringsOff+stringsSize > secLen {
		return nil, ErrCorruptFile
	}

	qi := &QuantInfo{
		raw:     sec,
		count:   count,
		entries: entriesOff,
		scales:  scalesOff,
		strings: stringsOff,
		strSize: stringsSize,
	}
	// Validate every record up-front so accessors can't fail on bounds.
	for i := 0; i < int(count); i++ {
		if _, err := qi.Record(i); err != nil {
			return nil, err
		}
	}
	return qi, nil
}

func (qi *QuantInfo) Count() int {
	if qi == nil {
		return 0
	}
	return int(qi.count)
}

// Record decodes the i-th quant record, copying scales out of the raw view.
func (qi *QuantInfo) Record(i int) (QuantRecord, error) {
	if qi == nil || i < 0 || i >= int(qi.count) {
		return QuantRecord{}, ErrCorruptFile
	}
	base := qi.entries + uint64(i)*quantEntrySize
	if base+quantEntrySize > uint64(len(qi.raw)) {
		return QuantRecord{}, ErrCorruptFile
	}
	b := qi.raw[base : base+quantEntrySize]

	nameOff := binary.LittleEndian.Uint32(b[0:4])
	nameLen := binary.LittleEndian.Uint32(b[4:8])
	scheme := QuantScheme(b[8])
	format := QuantFormat(b[9])
	scaleOff := binary.LittleEndian.Uint32(b[12:16])
	scaleCount := binary.LittleEndian.Uint32(b[16:20])

	if scheme != SchemePerTensor && scheme != SchemePerChannel {
		return QuantRecord{}, ErrCorruptFile
	}
	if format != FormatInt8 {
		return QuantRecord{}, ErrCorruptFile
	}
	if scaleCount == 0 {
		return QuantRecord{}, ErrCorruptFile
	}

	nEnd := uint64(nameOff) + uint64(nameLen)
	if nEnd > qi.strSize {
		return QuantRecord{}, ErrCorruptFile
	}
	name := string(qi.raw[qi.strings+uint64(nameOff) : qi.strings+nEnd])

	sBase := qi.scales + uint64(scaleOff)*4
	sEnd := sBase + uint64(scaleCount)*4
	if sEnd > uint64(len(qi.raw)) {
		return QuantRecord{}, ErrCorruptFile
	}
	scales := make([]float32, scaleCount)
	for s := range scales {
		bits := binary.LittleEndian.Uint32(qi.raw[sBase+uint64(s)*4 : sBase+uint64(s)*4+4])
		scales[s] = math.Float32frombits(bits)
	}

	return QuantRecord{Name: name, Scheme: scheme, Format: format, Scales: scales}, nil
}

// Records decodes all quant records keyed by tensor name.
func (qi *QuantInfo) Records() (map[string]QuantRecord, error) {
	out := make(map[string]QuantRecord, qi.Count())
	for i := 0; i < qi.Count(); i++ {
		r, err := qi.Record(i)
		if err != nil {
			return nil, err
		}
		out[r.Name] = r
	}
	return out, nil
}

// EncodeQuantInfoSection builds a quant info section payload (v1).
func EncodeQuantInfoSection(records []QuantRecord) ([]byte, error) {
	var (
		scales     []float32
		stringBlob []byte
	)
	type entry struct {
		nameOff, nameLen     uint32
		scheme               QuantScheme
		format               QuantFormat
		scaleOff, scaleCount uint32
	}
	entries := make([]entry, 0, len(records))

	for _, r := range records {
		if r.Name == "" {
			return nil, errors.New("kcf: quant record name must be non-empty")
		}
		if len(r.Scales) == 0 {
			return nil, errors.New("kcf: quant record requires at least one scale")
		}
		if r.Scheme != SchemePerTensor && r.Scheme != SchemePerChannel {
			return nil, errors.New("kcf: invalid quant scheme")
		}
		if r.Format != FormatInt8 {
			return nil, errors.New("kcf: invalid quant format")
		}
		e := entry{
			nameOff:    uint32(len(stringBlob)),
			nameLen:    uint32(len(r.Name)),
			scheme:     r.Scheme,
			format:     r.Format,
			scaleOff:   uint32(len(scales)),
			scaleCount: uint32(len(r.Scales)),
		}
		stringBlob = append(stringBlob, r.Name...)
		scales = append(scales, r.Scales...)
		entries = append(entries, e)
	}

	entriesOff := uint64(quantInfoHeaderSize)
	scalesOff := entriesOff + uint64(len(entries))*quantEntrySize
	stringsOff := scalesOff + uint64(len(scales))*4
	total := stringsOff + uint64(len(stringBlob))

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], QuantInfoVersion)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(entries)))
	binary.LittleEndian.PutUint64(out[8:16], entriesOff)
	binary.LittleEndian.PutUint64(out[16:24], scalesOff)
	binary.LittleEndian.PutUint64(out[24:32], stringsOff)
	binary.LittleEndian.PutUint64(out[32:40], uint64(len(stringBlob)))

	off := int(entriesOff)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(out[off+0:off+4], e.nameOff)
		binary.LittleEndian.PutUint32(out[off+4:off+8], e.nameLen)
		out[off+8] = byte(e.scheme)
		out[off+9] = byte(e.format)
		// off+10..off+12 reserved
		binary.LittleEndian.PutUint32(out[off+12:off+16], e.scaleOff)
		binary.LittleEndian.PutUint32(out[off+16:off+20], e.scaleCount)
		// off+20..off+24 reserved
		off += quantEntrySize
	}

	sp := int(scalesOff)
	for _, s := range scales {
		binary.LittleEndian.PutUint32(out[sp:sp+4], math.Float32bits(s))
		sp += 4
	}

	copy(out[int(stringsOff):], stringBlob)
	return out, nil
}
