// Package memory loads executable images into an address space that can be
// scanned and read by virtual address.
package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ianlancetaylor/demangle"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/sansecio/sigscan/scanner"
)

var (
	// ErrUnmapped is returned for reads that leave the mapped regions.
	ErrUnmapped = errors.New("unmapped address")
	ErrBadSize  = errors.New("invalid integer size")
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Arch names an instruction set.
type Arch string

const (
	ArchUnknown Arch = ""
	ArchX86     Arch = "x86"
	ArchAMD64   Arch = "x86_64"
	ArchARM64   Arch = "arm64"
)

// Format is the container format an image was loaded from.
type Format string

const (
	FormatRaw   Format = "raw"
	FormatELF   Format = "elf"
	FormatPE    Format = "pe"
	FormatMachO Format = "macho"
)

// OpenOptions overrides what is detected from the file.
type OpenOptions struct {
	// Base is the load address. Raw images are mapped at Base; other formats
	// are rebased so that their lowest mapped address is Base.
	Base        uint64
	AddressSize int
	Arch        Arch
}

// Symbol is a named address range.
type Symbol struct {
	Name      string
	Demangled string
	Addr      uint64
	Size      uint64
}

type segment struct {
	addr uint64
	data []byte
}

func (s segment) end() uint64 {
	return s.addr + uint64(len(s.data))
}

// Image is a read-only, loaded executable.
type Image struct {
	path     string
	format   Format
	arch     Arch
	addrSize int
	order    binary.ByteOrder
	segments []segment
	symbols  []Symbol
	digest   [32]byte
}

// Open loads the file at path. Zstandard compressed files are decompressed
// first. ELF, PE and Mach-O files are mapped by their load commands; any
// other file becomes a single region at opts.Base.
func Open(path string, opts OpenOptions) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	data := raw
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		data, err = dec.DecodeAll(raw, nil)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
	}
	img, err := Load(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.path = path
	img.digest = blake3.Sum256(raw)
	return img, nil
}

// Load maps an in-memory file.
func Load(data []byte, opts OpenOptions) (*Image, error) {
	var (
		img *Image
		err error
	)
	switch {
	case bytes.HasPrefix(data, []byte("\x7fELF")):
		img, err = loadELF(data)
	case bytes.HasPrefix(data, []byte("MZ")):
		img, err = loadPE(data)
	case isMachO(data):
		img, err = loadMachO(data)
	default:
		img = FromBytes(opts.Base, data, opts.AddressSize)
		img.arch = opts.Arch
		return img, nil
	}
	if err != nil {
		return nil, err
	}
	if opts.Base != 0 && len(img.segments) > 0 {
		img.rebase(opts.Base - img.segments[0].addr)
	}
	if opts.AddressSize != 0 {
		img.addrSize = opts.AddressSize
	}
	if opts.Arch != ArchUnknown {
		img.arch = opts.Arch
	}
	img.digest = blake3.Sum256(data)
	return img, nil
}

// FromBytes maps data as one little endian region at base. An addrSize of
// zero means 8.
func FromBytes(base uint64, data []byte, addrSize int) *Image {
	if addrSize == 0 {
		addrSize = 8
	}
	return &Image{
		format:   FormatRaw,
		addrSize: addrSize,
		order:    binary.LittleEndian,
		segments: []segment{{addr: base, data: data}},
		digest:   blake3.Sum256(data),
	}
}

// newImage sorts segments, trims overlaps and indexes symbols.
func newImage(format Format, arch Arch, addrSize int, order binary.ByteOrder, segs []segment, syms []Symbol) *Image {
	slices.SortFunc(segs, func(a, b segment) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})
	kept := segs[:0]
	for _, s := range segs {
		if len(kept) > 0 {
			prev := kept[len(kept)-1].end()
			if s.end() <= prev {
				continue
			}
			if s.addr < prev {
				s.data = s.data[prev-s.addr:]
				s.addr = prev
			}
		}
		if len(s.data) > 0 {
			kept = append(kept, s)
		}
	}
	return &Image{
		format:   format,
		arch:     arch,
		addrSize: addrSize,
		order:    order,
		segments: kept,
		symbols:  indexSymbols(syms),
	}
}

func indexSymbols(syms []Symbol) []Symbol {
	syms = slices.DeleteFunc(syms, func(s Symbol) bool { return s.Name == "" })
	slices.SortStableFunc(syms, func(a, b Symbol) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	syms = slices.CompactFunc(syms, func(a, b Symbol) bool { return a.Addr == b.Addr })
	for i := range syms {
		if syms[i].Size == 0 && i+1 < len(syms) {
			syms[i].Size = syms[i+1].Addr - syms[i].Addr
		}
		syms[i].Demangled = demangle.Filter(syms[i].Name, demangle.NoClones)
	}
	return syms
}

func (img *Image) rebase(delta uint64) {
	for i := range img.segments {
		img.segments[i].addr += delta
	}
	for i := range img.symbols {
		img.symbols[i].Addr += delta
	}
}

func (img *Image) Path() string                { return img.path }
func (img *Image) Format() Format              { return img.format }
func (img *Image) Arch() Arch                  { return img.arch }
func (img *Image) AddressSize() int            { return img.addrSize }
func (img *Image) ByteOrder() binary.ByteOrder { return img.order }

// Digest returns the BLAKE3 hash of the file as stored.
func (img *Image) Digest() [32]byte { return img.digest }

// Regions returns the mapped ranges in address order.
func (img *Image) Regions() []scanner.Region {
	regions := make([]scanner.Region, len(img.segments))
	for i, s := range img.segments {
		regions[i] = scanner.Region{Addr: s.addr, Size: len(s.data)}
	}
	return regions
}

// find returns the index of the segment containing addr.
func (img *Image) find(addr uint64) (int, bool) {
	i, _ := slices.BinarySearchFunc(img.segments, addr, func(s segment, a uint64) int {
		switch {
		case s.end() <= a:
			return -1
		case s.addr > a:
			return 1
		}
		return 0
	})
	if i < len(img.segments) && img.segments[i].addr <= addr && addr < img.segments[i].end() {
		return i, true
	}
	return 0, false
}

// View returns the bytes of r without copying. r must lie within one
// segment.
func (img *Image) View(r scanner.Region) ([]byte, error) {
	i, ok := img.find(r.Addr)
	if !ok || r.End() > img.segments[i].end() {
		return nil, fmt.Errorf("%w: %#x+%#x", ErrUnmapped, r.Addr, r.Size)
	}
	s := img.segments[i]
	off := r.Addr - s.addr
	return s.data[off : off+uint64(r.Size)], nil
}

// Read copies memory at addr into p. Reads may continue into directly
// adjacent segments. If fewer than len(p) bytes are mapped the count
// read so far is returned with ErrUnmapped.
func (img *Image) Read(addr uint64, p []byte) (int, error) {
	i, ok := img.find(addr)
	if !ok {
		return 0, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	n := 0
	for n < len(p) {
		s := img.segments[i]
		n += copy(p[n:], s.data[addr-s.addr:])
		if n == len(p) {
			break
		}
		addr = s.end()
		i++
		if i >= len(img.segments) || img.segments[i].addr != addr {
			return n, fmt.Errorf("%w: %#x after %d bytes", ErrUnmapped, addr, n)
		}
	}
	return n, nil
}

// ReadInteger reads an unsigned integer of size bytes at addr in the
// image's byte order. Size 0 reads an address.
func (img *Image) ReadInteger(addr uint64, size int) (uint64, error) {
	if size == 0 {
		size = img.addrSize
	}
	var buf [8]byte
	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if _, err := img.Read(addr, buf[:size]); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(img.order.Uint16(buf[:])), nil
	case 4:
		return uint64(img.order.Uint32(buf[:])), nil
	}
	return img.order.Uint64(buf[:]), nil
}

// Symbols returns the image's symbols in address order.
func (img *Image) Symbols() []Symbol {
	return img.symbols
}

// SymbolAt returns the symbol whose range contains addr.
func (img *Image) SymbolAt(addr uint64) (Symbol, bool) {
	i, found := slices.BinarySearchFunc(img.symbols, addr, func(s Symbol, a uint64) int {
		switch {
		case s.Addr < a:
			return -1
		case s.Addr > a:
			return 1
		}
		return 0
	})
	if !found {
		if i == 0 {
			return Symbol{}, false
		}
		i--
	}
	s := img.symbols[i]
	if addr != s.Addr && addr-s.Addr >= s.Size {
		return Symbol{}, false
	}
	return s, true
}
