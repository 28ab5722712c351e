package finalize

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// BinaryInfo is the metadata the resolver needs from a binary.
type BinaryInfo struct {
	Soname   string
	Interp   string
	Needed   []string
	Stripped bool
	BuildID  string
	Filename string
}

func (i *BinaryInfo) String() string {
	return fmt.Sprintf("%s(soname=%q interp=%q needed=%v stripped=%v build_id=%q)",
		i.Filename, i.Soname, i.Interp, i.Needed, i.Stripped, i.BuildID)
}

// Rename returns a copy of the info describing the same content at path.
func (i *BinaryInfo) Rename(path string) *BinaryInfo {
	c := *i
	c.Filename = path
	return &c
}

// rebased is the info a stripped copy of this binary at filename must have.
func (i *BinaryInfo) rebased(filename string) *BinaryInfo {
	c := *i
	c.Filename = filename
	c.Stripped = true
	return &c
}

func (i *BinaryInfo) Equal(o *BinaryInfo) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.Soname == o.Soname &&
		i.Interp == o.Interp &&
		slices.Equal(i.Needed, o.Needed) &&
		i.Stripped == o.Stripped &&
		i.BuildID == o.BuildID &&
		i.Filename == o.Filename
}

// MetadataProvider reads binary metadata and produces stripped copies.
type MetadataProvider interface {
	// BinaryInfo returns nil info for files that are not binaries.
	BinaryInfo(path string) (*BinaryInfo, error)
	// Strip writes a stripped copy of info.Filename to dest.
	Strip(info *BinaryInfo, dest string) error
}

// ELFProvider reads ELF files with debug/elf and strips them with an
// external tool.
type ELFProvider struct {
	StripTool string
	Exec      *Executor
}

func (p *ELFProvider) BinaryInfo(path string) (*BinaryInfo, error) {
	return ReadBinaryInfo(path)
}

func (p *ELFProvider) Strip(info *BinaryInfo, dest string) error {
	tool := p.StripTool
	if tool == "" {
		tool = "strip"
	}
	cmd := exec.Command(tool, "--strip-all", "-o", dest, info.Filename)
	if err := p.Exec.Run(cmd); err != nil {
		return fmt.Errorf("failed to strip %s: %w", info.Filename, err)
	}
	return nil
}

// ReadBinaryInfo returns nil, nil when path is not an ELF file.
func ReadBinaryInfo(path string) (*BinaryInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil // too short to be ELF
		}
		return nil, err
	}
	if !bytes.Equal(magic[:], []byte(elf.ELFMAG)) {
		return nil, nil
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("invalid ELF file %s: %w", path, err)
	}
	defer ef.Close()

	info := &BinaryInfo{Filename: path, Stripped: true}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return nil, fmt.Errorf("failed to read PT_INTERP of %s: %w", path, err)
		}
		info.Interp = strings.TrimRight(string(data), "\x00")
	}

	if ef.Section(".dynamic") != nil {
		if sonames, err := ef.DynString(elf.DT_SONAME); err == nil && len(sonames) > 0 {
			info.Soname = sonames[0]
		}
		needed, err := ef.DynString(elf.DT_NEEDED)
		if err != nil {
			return nil, fmt.Errorf("failed to read DT_NEEDED of %s: %w", path, err)
		}
		info.Needed = needed
	}

	for _, sec := range ef.Sections {
		if sec.Name == ".symtab" || strings.HasPrefix(sec.Name, ".debug_") || strings.HasPrefix(sec.Name, ".zdebug_") {
			info.Stripped = false
		}
	}

	id, err := readBuildID(ef)
	if err != nil {
		return nil, fmt.Errorf("failed to read build ID of %s: %w", path, err)
	}
	info.BuildID = id

	return info, nil
}

const ntGNUBuildID = 3

// readBuildID scans the note segments (or note sections when there are no
// program headers, as in split debug files) for NT_GNU_BUILD_ID.
func readBuildID(ef *elf.File) (string, error) {
	var notes [][]byte
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return "", err
		}
		notes = append(notes, data)
	}
	for _, sec := range ef.Sections {
		if sec.Type != elf.SHT_NOTE {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return "", err
		}
		notes = append(notes, data)
	}
	for _, data := range notes {
		if id := findBuildIDNote(data, ef.ByteOrder); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func findBuildIDNote(data []byte, order binary.ByteOrder) string {
	align := func(n uint32) uint64 { return (uint64(n) + 3) &^ 3 }
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:4])
		descsz := order.Uint32(data[4:8])
		typ := order.Uint32(data[8:12])
		data = data[12:]
		nameEnd := align(namesz)
		if nameEnd+align(descsz) > uint64(len(data)) {
			return ""
		}
		name := data[:namesz]
		desc := data[nameEnd : nameEnd+uint64(descsz)]
		data = data[nameEnd+align(descsz):]
		if typ == ntGNUBuildID && string(bytes.TrimRight(name, "\x00")) == "GNU" {
			return hex.EncodeToString(desc)
		}
	}
	return ""
}
