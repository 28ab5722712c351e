package finalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProvider serves canned metadata and "strips" by writing a marker file.
type fakeProvider struct {
	infos  map[string]*BinaryInfo
	errs   map[string]error
	probes map[string]int
	strips []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		infos:  make(map[string]*BinaryInfo),
		errs:   make(map[string]error),
		probes: make(map[string]int),
	}
}

// add registers metadata for path, setting its filename.
func (p *fakeProvider) add(path string, info BinaryInfo) *BinaryInfo {
	info.Filename = path
	p.infos[path] = &info
	return &info
}

func (p *fakeProvider) BinaryInfo(path string) (*BinaryInfo, error) {
	p.probes[path]++
	if err := p.errs[path]; err != nil {
		return nil, err
	}
	info, ok := p.infos[path]
	if !ok {
		return nil, nil
	}
	c := *info
	return &c, nil
}

func (p *fakeProvider) Strip(info *BinaryInfo, dest string) error {
	if err := os.WriteFile(dest, []byte("stripped "+info.Filename), 0o644); err != nil {
		return err
	}
	p.infos[dest] = info.rebased(dest)
	p.strips = append(p.strips, dest)
	return nil
}

// fakeVariants maps source paths to variants and redirects.
type fakeVariants struct {
	def       Variant
	bySource  map[string]Variant
	redirects map[string]string
}

func newFakeVariants(sharedToolchain string) *fakeVariants {
	return &fakeVariants{
		def:       Variant{Name: "default", SharedToolchain: sharedToolchain},
		bySource:  make(map[string]Variant),
		redirects: make(map[string]string),
	}
}

func (v *fakeVariants) FindVariant(info *BinaryInfo) (Variant, string, error) {
	variant, ok := v.bySource[info.Filename]
	if !ok {
		variant = v.def
	}
	return variant, v.redirects[info.Filename], nil
}

func entry(target, source string, group int) ManifestEntry {
	return ManifestEntry{Target: target, Source: source, Group: group, Manifest: "test.manifest"}
}

// writeFile creates path (and its parents) with contents.
func writeFile(t *testing.T, path, contents string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func targets(binaries []BinaryEntry) map[string]BinaryEntry {
	m := make(map[string]BinaryEntry, len(binaries))
	for _, b := range binaries {
		m[b.Entry.Target] = b
	}
	return m
}
