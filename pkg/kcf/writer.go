package kcf

import (
	"errors"
	"io"
	"os"
	"sort"
)

// Writer builds a KCF file section by section.
//
// Space for the header is reserved up-front and patched during Finalise.
// Artifacts at classifier scale fit comfortably in memory, so payloads are
// written as whole byte slices rather than streamed.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	closed   bool

	flags  uint64
	padBuf []byte
}

// NewWriter creates a new KCF writer targeting the given file.
// It truncates the file and reserves space for the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("kcf: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, 4096),
	}

	// Reserve fixed header bytes (actual bytes, not a seek hole).
	if err := w.writeZeros(kcfHeaderSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(kcfAlign); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSection writes a section payload and records it in the section table.
// Sections may be written in any order. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	if w.closed {
		return errors.New("kcf: writer already finalised")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("kcf: duplicate section type")
	}

	// Align each section start for clean mmapping by consumers.
	if err := w.alignTo(kcfAlign); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if err := writeFull(w.f, data); err != nil {
			return err
		}
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

func (w *Writer) AddFlags(flags uint64) {
	w.flags |= flags
}

// Finalise writes the section directory and patches the header.
// After Finalise, the writer must not be used again.
func (w *Writer) Finalise() error {
	if w.closed {
		return errors.New("kcf: writer already finalised")
	}
	w.closed = true

	// Deterministic directory ordering.
	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(kcfAlign); err != nil {
		return err
	}
	sectionDirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [kcfSectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return errors.New("kcf: encode section failed")
		}
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	// Compute final file size and truncate to it (critical if the target file was reused).
	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var header Header
	copy(header.Magic[:], MagicKCF)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = kcfHeaderSize
	header.SectionCount = uint32(len(w.sections))
	header.SectionDirOffset = uint64(sectionDirOffset)
	header.FileSize = uint64(fileSize)
	header.Flags = w.flags

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [kcfHeaderSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("kcf: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		toWrite := min(n, len(w.padBuf))
		if err := writeFull(w.f, w.padBuf[:toWrite]); err != nil {
			return err
		}
		n -= toWrite
	}
	return nil
}
