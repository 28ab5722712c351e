package finalize

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

// StripBinaries turns each binary into a stripped entry and, where one can
// be found or made, a debug file. The two results are not parallel: a
// binary without a debug file only gets a warning.
func (f *Finalizer) StripBinaries(binaries []BinaryEntry) ([]BinaryEntry, []*BinaryInfo, error) {
	var stripped []BinaryEntry
	var debugFiles []*BinaryInfo

	for _, b := range binaries {
		if b.Entry.Source != b.Info.Filename {
			return nil, nil, &StripConsistencyError{
				File:   b.Entry.Source,
				Reason: fmt.Sprintf("metadata was read from %s", b.Info.Filename),
			}
		}

		var debug *BinaryInfo
		var err error
		if b.Info.Stripped {
			debug, err = f.findDebugFile(b.Info.Filename)
		} else {
			b, debug, err = f.makeDebugFile(b)
		}
		if err != nil {
			return nil, nil, err
		}
		stripped = append(stripped, b)

		if debug == nil {
			f.warnf("no debug file found for %s", b.Info.Filename)
			continue
		}
		if debug.BuildID == "" {
			return nil, nil, &StripConsistencyError{File: debug.Filename, Reason: "has no build ID"}
		}
		if debug.Stripped {
			return nil, nil, &StripConsistencyError{File: debug.Filename, Reason: "is stripped"}
		}
		if !b.Info.Equal(debug.rebased(b.Info.Filename)) {
			return nil, nil, &StripConsistencyError{
				File:   debug.Filename,
				Reason: fmt.Sprintf("debug file mismatch: %v vs %v", b.Info, debug),
			}
		}
		debugFiles = append(debugFiles, debug)
	}

	return stripped, debugFiles, nil
}

// findDebugFile locates the unstripped twin of an already stripped file.
// In a makefile-style build the installed file is foo.strip and the debug
// file is foo. Otherwise the debug file has the same name in a
// lib.unstripped or exe.unstripped subdirectory, next to the file or under
// the build root.
func (f *Finalizer) findDebugFile(filename string) (*BinaryInfo, error) {
	var debugfile string
	if strings.HasSuffix(filename, ".strip") {
		debugfile = strings.TrimSuffix(filename, ".strip")
		if !fileExists(debugfile) {
			return nil, nil
		}
	} else {
		dir, file := filepath.Split(filename)
		subdir := "exe.unstripped"
		if strings.HasSuffix(file, ".so") || strings.Contains(file, ".so.") {
			subdir = "lib.unstripped"
		}
		debugfile = filepath.Join(dir, subdir, file)
		if !fileExists(debugfile) {
			debugfile = filepath.Join(subdir, filename)
			if !fileExists(debugfile) {
				return nil, nil
			}
		}
	}

	f.Examined.Add(debugfile)
	debug, err := f.Provider.BinaryInfo(debugfile)
	if err != nil {
		return nil, &ProbeError{Entry: debugfile, Err: err}
	}
	if debug == nil {
		return nil, &StripConsistencyError{File: debugfile, Reason: fmt.Sprintf("debug file for %s is invalid", filename)}
	}
	return debug, nil
}

// makeDebugFile strips an unstripped binary into the stripped directory.
// The original becomes the debug file.
func (f *Finalizer) makeDebugFile(b BinaryEntry) (BinaryEntry, *BinaryInfo, error) {
	debug := b.Info
	stripped := f.strippedPath(b)

	if err := os.MkdirAll(filepath.Dir(stripped), 0o755); err != nil {
		return b, nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(stripped), err)
	}
	if err := os.Remove(stripped); err != nil && !os.IsNotExist(err) {
		return b, nil, fmt.Errorf("failed to remove stale %s: %w", stripped, err)
	}

	verbosef("Stripping %s\n", debug.Filename)
	if err := f.Provider.Strip(debug, stripped); err != nil {
		return b, nil, err
	}

	info, err := f.Provider.BinaryInfo(stripped)
	if err != nil {
		return b, nil, &ProbeError{Entry: stripped, Err: err}
	}
	if info == nil {
		return b, nil, &StripConsistencyError{File: stripped, Reason: fmt.Sprintf("stripped file for %s is invalid", debug.Filename)}
	}

	f.Examined.Add(debug.Filename)
	f.Examined.Add(stripped)

	b.Entry.Source = stripped
	b.Info = info
	return b, debug, nil
}

// strippedPath places a stripped copy under its build ID, so binaries that
// share an install target in different outputs get separate files. Without
// a build ID the source path picks the directory.
func (f *Finalizer) strippedPath(b BinaryEntry) string {
	key := b.Info.BuildID
	if key == "" {
		sum := blake3.Sum256([]byte(b.Entry.Source))
		key = "src-" + hex.EncodeToString(sum[:8])
	}
	return filepath.Join(f.StrippedDir, key, b.Entry.Target)
}
