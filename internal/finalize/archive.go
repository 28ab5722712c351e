package finalize

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// openManifest opens an input manifest, decompressing it according to its
// suffix.
func openManifest(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
		}
		return &stackedReader{Reader: gz, closers: []io.Closer{gz, f}}, nil
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create xz reader for %s: %w", path, err)
		}
		return &stackedReader{Reader: xr, closers: []io.Closer{f}}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zstdCloser{zr}, f}}, nil
	}
	return f, nil
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// debugArchiveName is the member name of a debug file in the archive and
// in the symbol store.
func debugArchiveName(buildID string) string {
	if len(buildID) <= 2 {
		return ".build-id/" + buildID + ".debug"
	}
	return ".build-id/" + buildID[:2] + "/" + buildID[2:] + ".debug"
}

// buildDebugArchive returns a deterministic tar.zst holding every debug
// file under its .build-id name.
func buildDebugArchive(debugFiles []*BinaryInfo) ([]byte, error) {
	sorted := make([]*BinaryInfo, len(debugFiles))
	copy(sorted, debugFiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BuildID < sorted[j].BuildID })

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)

	for _, info := range sorted {
		data, err := os.ReadFile(info.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read debug file %s: %w", info.Filename, err)
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     debugArchiveName(info.BuildID),
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  time.Unix(0, 0),
			Uname:    "root",
			Gname:    "root",
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadDebugArchiveIDs lists the build IDs stored in a debug archive.
func ReadDebugArchiveIDs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
	}
	defer zr.Close()

	ids := make(map[string]bool)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar header in %s: %w", path, err)
		}
		name := strings.TrimPrefix(hdr.Name, ".build-id/")
		if name == hdr.Name || !strings.HasSuffix(name, ".debug") {
			continue
		}
		name = strings.TrimSuffix(name, ".debug")
		ids[strings.Replace(name, "/", "", 1)] = true
	}
	return ids, nil
}
