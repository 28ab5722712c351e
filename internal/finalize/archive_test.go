package finalize

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebugArchiveName(t *testing.T) {
	require.Equal(t, ".build-id/de/adbeef.debug", debugArchiveName("deadbeef"))
	require.Equal(t, ".build-id/ab.debug", debugArchiveName("ab"))
}

func TestBuildDebugArchive(t *testing.T) {
	dir := t.TempDir()
	files := []*BinaryInfo{
		{BuildID: "bbbb", Filename: writeFile(t, filepath.Join(dir, "b"), "second")},
		{BuildID: "aaaa", Filename: writeFile(t, filepath.Join(dir, "a"), "first")},
	}

	data, err := buildDebugArchive(files)
	require.NoError(t, err)

	// Neither input order nor file times change the bytes.
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(files[0].Filename, old, old))
	again, err := buildDebugArchive([]*BinaryInfo{files[1], files[0]})
	require.NoError(t, err)
	require.Equal(t, data, again)

	path := filepath.Join(dir, "debug.tar.zst")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	ids, err := ReadDebugArchiveIDs(path)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"aaaa": true, "bbbb": true}, ids)
}

func TestBuildDebugArchiveMissingFile(t *testing.T) {
	_, err := buildDebugArchive([]*BinaryInfo{{BuildID: "cc", Filename: filepath.Join(t.TempDir(), "gone")}})
	require.ErrorContains(t, err, "failed to read debug file")
}

func TestReadBuildIDFile(t *testing.T) {
	dir := t.TempDir()
	debugFiles := map[string]*BinaryInfo{
		"02": {BuildID: "02", Filename: filepath.Join(dir, "b")},
		"01": {BuildID: "01", Filename: filepath.Join(dir, "a")},
	}
	text, ordered, err := formatBuildIDs(debugFiles)
	require.NoError(t, err)
	require.Equal(t, "01 "+filepath.Join(dir, "a")+"\n02 "+filepath.Join(dir, "b")+"\n", text)
	require.Equal(t, "01", ordered[0].BuildID)

	path := writeFile(t, filepath.Join(dir, "ids.txt"), text)
	ids, err := ReadBuildIDFile(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"01": filepath.Join(dir, "a"), "02": filepath.Join(dir, "b")}, ids)

	bad := writeFile(t, filepath.Join(dir, "bad.txt"), "01\n")
	_, err = ReadBuildIDFile(bad)
	require.ErrorContains(t, err, "bad.txt:1")
}
