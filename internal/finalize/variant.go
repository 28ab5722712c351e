package finalize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// AuxRequirement is an auxiliary file every binary of a variant needs.
type AuxRequirement struct {
	Target string `toml:"target"`
	Group  *int   `toml:"group"` // nil inherits the dependent's group
}

// Variant describes an ABI flavor of the build.
type Variant struct {
	Name            string           `toml:"name"`
	Toolchain       string           `toml:"toolchain"`
	SharedToolchain string           `toml:"shared_toolchain"`
	LibPrefix       string           `toml:"libprefix"`
	Runtime         string           `toml:"runtime"`
	Aux             []AuxRequirement `toml:"aux"`
}

// VariantResolver maps a binary to its variant. A non-empty redirect is the
// path the binary was really built at.
type VariantResolver interface {
	FindVariant(info *BinaryInfo) (v Variant, redirect string, err error)
}

// VariantTable resolves variants by the toolchain directory a binary was
// built in.
type VariantTable struct {
	Default  Variant   `toml:"default"`
	Variants []Variant `toml:"variant"`
	BuildDir string    `toml:"-"`
}

// LoadVariants reads a variants table. An empty path yields a table with
// only the default variant.
func LoadVariants(path, sharedToolchain string) (*VariantTable, error) {
	table := &VariantTable{BuildDir: "."}
	if path != "" {
		if _, err := toml.DecodeFile(path, table); err != nil {
			return nil, fmt.Errorf("failed to load variants from %s: %w", path, err)
		}
	}
	if table.Default.SharedToolchain == "" {
		table.Default.SharedToolchain = sharedToolchain
	}
	for i := range table.Variants {
		v := &table.Variants[i]
		if v.Toolchain == "" {
			return nil, fmt.Errorf("variant %q in %s has no toolchain", v.Name, path)
		}
		if v.SharedToolchain == "" {
			v.SharedToolchain = v.Toolchain + "-shared"
		}
	}
	return table, nil
}

func (t *VariantTable) FindVariant(info *BinaryInfo) (Variant, string, error) {
	source := info.Filename
	var redirect string

	if real, err := filepath.EvalSymlinks(source); err == nil {
		if !filepath.IsAbs(source) {
			if rel, ok := t.relative(real); ok {
				real = rel
			}
		}
		if filepath.Clean(real) != filepath.Clean(source) {
			redirect = real
			source = real
		}
	} else if !os.IsNotExist(err) {
		return Variant{}, "", fmt.Errorf("failed to resolve %s: %w", source, err)
	}

	if rel, ok := t.relative(source); ok {
		dir := firstComponent(rel)
		for _, v := range t.Variants {
			if dir == v.Toolchain || dir == v.SharedToolchain {
				return v, redirect, nil
			}
		}
	}
	return t.Default, redirect, nil
}

// relative makes an absolute path relative to the build directory when it
// lies inside it.
func (t *VariantTable) relative(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		return path, true
	}
	base, err := filepath.Abs(t.BuildDir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func firstComponent(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.TrimPrefix(path, "./")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}
