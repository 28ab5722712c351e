package finalize

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadBinaryInfoNotELF(t *testing.T) {
	dir := t.TempDir()
	for name, contents := range map[string]string{
		"empty": "",
		"short": "\x7fE",
		"text":  "#!/bin/sh\necho hello\n",
	} {
		info, err := ReadBinaryInfo(writeFile(t, filepath.Join(dir, name), contents))
		require.NoError(t, err, name)
		require.Nil(t, info, name)
	}

	_, err := ReadBinaryInfo(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadBinaryInfo(writeFile(t, filepath.Join(dir, "corrupt"), "\x7fELF garbage"))
	require.ErrorContains(t, err, "invalid ELF file")
}

func TestReadBinaryInfoSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	info, err := ReadBinaryInfo(exe)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, exe, info.Filename)
	require.Empty(t, info.Soname)
}

// note encodes one ELF note record.
func note(order binary.ByteOrder, name string, typ uint32, desc []byte) []byte {
	pad := func(b []byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	nameBytes := append([]byte(name), 0)
	var hdr [12]byte
	order.PutUint32(hdr[0:4], uint32(len(nameBytes)))
	order.PutUint32(hdr[4:8], uint32(len(desc)))
	order.PutUint32(hdr[8:12], typ)
	out := append(hdr[:], pad(nameBytes)...)
	return append(out, pad(append([]byte(nil), desc...))...)
}

func TestFindBuildIDNote(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		data := note(order, "Go", 4, []byte("go-build-id"))
		data = append(data, note(order, "GNU", 1, []byte{1, 2, 3, 4})...)
		data = append(data, note(order, "GNU", ntGNUBuildID, []byte{0xde, 0xad, 0xbe, 0xef, 0x01})...)
		require.Equal(t, "deadbeef01", findBuildIDNote(data, order))

		require.Empty(t, findBuildIDNote(data[:len(data)-4], order))
	}

	huge := make([]byte, 16)
	binary.LittleEndian.PutUint32(huge[0:4], 0xffffffff)
	binary.LittleEndian.PutUint32(huge[8:12], ntGNUBuildID)
	require.Empty(t, findBuildIDNote(huge, binary.LittleEndian))
}

func TestBinaryInfoRebased(t *testing.T) {
	debug := &BinaryInfo{Soname: "libfoo.so", Needed: []string{"libc.so"}, BuildID: "01", Filename: "out/libfoo.so"}
	stripped := &BinaryInfo{Soname: "libfoo.so", Needed: []string{"libc.so"}, BuildID: "01", Stripped: true, Filename: "stripped/lib/libfoo.so"}

	require.True(t, stripped.Equal(debug.rebased(stripped.Filename)))
	require.False(t, debug.Stripped)
	require.False(t, stripped.Equal(debug))
	require.True(t, (*BinaryInfo)(nil).Equal(nil))
	require.False(t, debug.Equal(nil))

	renamed := debug.Rename("real/libfoo.so")
	require.Equal(t, "real/libfoo.so", renamed.Filename)
	require.Equal(t, "out/libfoo.so", debug.Filename)
}
