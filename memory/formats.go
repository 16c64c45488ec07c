package memory

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

func loadELF(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing elf: %w", err)
	}
	defer f.Close()

	var segs []segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		buf := make([]byte, p.Memsz)
		if _, err := io.ReadFull(p.Open(), buf[:min(p.Filesz, p.Memsz)]); err != nil {
			return nil, fmt.Errorf("reading segment at %#x: %w", p.Vaddr, err)
		}
		segs = append(segs, segment{addr: p.Vaddr, data: buf})
	}

	var syms []Symbol
	for _, list := range [](func() ([]elf.Symbol, error)){f.Symbols, f.DynamicSymbols} {
		ss, err := list()
		if err != nil {
			continue
		}
		for _, s := range ss {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			syms = append(syms, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
		}
	}

	arch, size := ArchUnknown, 8
	switch f.Machine {
	case elf.EM_X86_64:
		arch = ArchAMD64
	case elf.EM_386:
		arch, size = ArchX86, 4
	case elf.EM_AARCH64:
		arch = ArchARM64
	default:
		if f.Class == elf.ELFCLASS32 {
			size = 4
		}
	}
	return newImage(FormatELF, arch, size, f.ByteOrder, segs, syms), nil
}

func loadPE(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing pe: %w", err)
	}
	defer f.Close()

	var imageBase uint64
	size := 8
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase, size = uint64(oh.ImageBase), 4
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
	}

	var segs []segment
	for _, s := range f.Sections {
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = s.Size
		}
		if vsize == 0 {
			continue
		}
		buf := make([]byte, vsize)
		if s.Size > 0 {
			if _, err := s.ReadAt(buf[:min(s.Size, vsize)], 0); err != nil && err != io.EOF {
				return nil, fmt.Errorf("reading section %s: %w", s.Name, err)
			}
		}
		segs = append(segs, segment{addr: imageBase + uint64(s.VirtualAddress), data: buf})
	}

	var syms []Symbol
	for _, s := range f.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		// IMAGE_SYM_DTYPE_FUNCTION in the upper type nibble.
		if s.Type>>4 != 2 {
			continue
		}
		sect := f.Sections[s.SectionNumber-1]
		syms = append(syms, Symbol{Name: s.Name, Addr: imageBase + uint64(sect.VirtualAddress) + uint64(s.Value)})
	}

	arch := ArchUnknown
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		arch = ArchAMD64
	case pe.IMAGE_FILE_MACHINE_I386:
		arch = ArchX86
	case pe.IMAGE_FILE_MACHINE_ARM64:
		arch = ArchARM64
	}
	return newImage(FormatPE, arch, size, binary.LittleEndian, segs, syms), nil
}

func isMachO(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	switch binary.LittleEndian.Uint32(data) {
	case macho.Magic32, macho.Magic64:
		return true
	}
	switch binary.BigEndian.Uint32(data) {
	case macho.Magic32, macho.Magic64:
		return true
	}
	return false
}

func loadMachO(data []byte) (*Image, error) {
	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing mach-o: %w", err)
	}
	defer f.Close()

	var segs []segment
	for _, l := range f.Loads {
		s, ok := l.(*macho.Segment)
		if !ok || s.Name == "__PAGEZERO" || s.Filesz == 0 {
			continue
		}
		buf := make([]byte, max(s.Memsz, s.Filesz))
		if _, err := s.ReadAt(buf[:s.Filesz], 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading segment %s: %w", s.Name, err)
		}
		segs = append(segs, segment{addr: s.Addr, data: buf})
	}

	var syms []Symbol
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			// N_SECT symbols that are not stabs.
			if s.Sect == 0 || s.Type&0xe0 != 0 || s.Type&0x0e != 0x0e {
				continue
			}
			syms = append(syms, Symbol{Name: strings.TrimPrefix(s.Name, "_"), Addr: s.Value})
		}
	}

	arch, size := ArchUnknown, 8
	switch f.Cpu {
	case macho.CpuAmd64:
		arch = ArchAMD64
	case macho.Cpu386:
		arch, size = ArchX86, 4
	case macho.CpuArm64:
		arch = ArchARM64
	}
	if f.Magic == macho.Magic32 && arch == ArchUnknown {
		size = 4
	}
	return newImage(FormatMachO, arch, size, f.ByteOrder, segs, syms), nil
}
