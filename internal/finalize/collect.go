package finalize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// InputBinary is a --binary request: auxiliary targets matching Pattern
// go to output Group.
type InputBinary struct {
	Pattern string
	Group   int
}

// resolveContext is threaded through the recursion below one root binary.
type resolveContext struct {
	variant Variant
	sonames map[string]BinaryEntry
	root    BinaryEntry
}

// Resolver computes the closure of binaries a set of selected entries
// needs. A Resolver is good for one CollectBinaries call.
type Resolver struct {
	provider MetadataProvider
	variants VariantResolver
	aux      AuxIndex
	examined Examined

	binaries map[string]BinaryEntry
	// shared toolchain directory -> DT_SONAME -> binary
	sonameMaps map[string]map[string]BinaryEntry
}

func NewResolver(provider MetadataProvider, variants VariantResolver, aux AuxIndex, examined Examined) *Resolver {
	return &Resolver{
		provider:   provider,
		variants:   variants,
		aux:        aux,
		examined:   examined,
		binaries:   make(map[string]BinaryEntry),
		sonameMaps: make(map[string]map[string]BinaryEntry),
	}
}

// CollectBinaries returns every binary in selected and inputs together with
// their dependencies, sorted by target, and the selected entries that are
// not binaries.
func (r *Resolver) CollectBinaries(selected []ManifestEntry, inputs []InputBinary) ([]BinaryEntry, []ManifestEntry, error) {
	var nonbinaries []ManifestEntry
	nonbinaryIndex := make(map[string]int)

	for _, entry := range selected {
		var info *BinaryInfo
		// Data resources are opaque regardless of their bits.
		if !strings.HasPrefix(entry.Target, dataPrefix) {
			r.examined.Add(entry.Source)
			var err error
			info, err = r.provider.BinaryInfo(entry.Source)
			if err != nil {
				return nil, nil, &ProbeError{Entry: entry.String(), Err: err}
			}
		}
		if info != nil {
			if err := r.addBinary(BinaryEntry{Entry: entry, Info: info}, nil, false); err != nil {
				return nil, nil, err
			}
			continue
		}

		if i, ok := nonbinaryIndex[entry.Target]; ok {
			existing := nonbinaries[i]
			if existing.Source != entry.Source {
				return nil, nil, &ConflictError{What: "target", Name: entry.Target, First: existing.String(), Second: entry.String()}
			}
			if entry.Group < existing.Group {
				nonbinaries[i] = entry
			}
			continue
		}
		nonbinaryIndex[entry.Target] = len(nonbinaries)
		nonbinaries = append(nonbinaries, entry)
	}

	if err := r.addInputBinaries(inputs); err != nil {
		return nil, nil, err
	}

	binaries := make([]BinaryEntry, 0, len(r.binaries))
	for _, b := range r.binaries {
		binaries = append(binaries, b)
	}
	sort.Slice(binaries, func(i, j int) bool { return binaries[i].Entry.Target < binaries[j].Entry.Target })

	// A file that is a binary in one place cannot be data in another.
	kept := nonbinaries[:0]
	for _, entry := range nonbinaries {
		if b, ok := r.binaries[entry.Target]; ok {
			if b.Entry.Source != entry.Source {
				return nil, nil, &ConflictError{What: "target", Name: entry.Target, First: b.String(), Second: entry.String()}
			}
			continue
		}
		kept = append(kept, entry)
	}

	debugf("Collected %d binaries and %d other files\n", len(binaries), len(kept))
	return binaries, kept, nil
}

func (r *Resolver) addInputBinaries(inputs []InputBinary) error {
	targets := r.aux.Targets()
	matched := make(map[string]string) // target -> pattern
	for _, in := range inputs {
		var matches []string
		for _, target := range targets {
			ok, err := doublestar.Match(in.Pattern, target)
			if err != nil {
				return fmt.Errorf("invalid --binary pattern %q: %w", in.Pattern, err)
			}
			if ok {
				matches = append(matches, target)
			}
		}
		if len(matches) == 0 {
			return fmt.Errorf("--binary=%q did not match any binaries", in.Pattern)
		}
		for _, target := range matches {
			if prev, ok := matched[target]; ok {
				return &ConflictError{What: "pattern match", Name: target, First: fmt.Sprintf("--binary=%q", prev), Second: fmt.Sprintf("--binary=%q", in.Pattern)}
			}
			matched[target] = in.Pattern
			if err := r.addBinary(r.aux[target].withGroup(in.Group), nil, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// addBinary records binary and everything it needs. A nil ctx starts a new
// root. auxiliary is set when binary came from the auxiliary manifests, in
// which case all its dependencies must come from there too.
func (r *Resolver) addBinary(binary BinaryEntry, ctx *resolveContext, auxiliary bool) error {
	if binary.Entry.Group == NoGroup {
		return fmt.Errorf("binary %s has no output group", binary)
	}

	// Roots discover their variant first, since the variant may say the
	// binary really lives somewhere else.
	if ctx == nil {
		variant, redirect, err := r.variants.FindVariant(binary.Info)
		if err != nil {
			return fmt.Errorf("failed to find variant of %s: %w", binary, err)
		}
		if redirect != "" && redirect != binary.Entry.Source {
			r.examined.Add(binary.Entry.Source)
			binary.Entry.Source = redirect
			binary.Info = binary.Info.Rename(redirect)
			r.examined.Add(redirect)
		}
		sonames, ok := r.sonameMaps[variant.SharedToolchain]
		if !ok {
			sonames = make(map[string]BinaryEntry)
			r.sonameMaps[variant.SharedToolchain] = sonames
		}
		ctx = &resolveContext{variant: variant, sonames: sonames, root: binary}
	}

	if existing, ok := r.binaries[binary.Entry.Target]; ok {
		if existing.Entry.Source != binary.Entry.Source {
			return &ConflictError{What: "target", Name: binary.Entry.Target, First: existing.String(), Second: binary.String()}
		}
		// A revisit in a later or equal group changes nothing. An earlier
		// group reprocesses the whole subtree to promote it.
		if existing.Entry.Group <= binary.Entry.Group {
			return nil
		}
		debugf("Promoting %s from group %d to %d\n", binary.Entry.Target, existing.Entry.Group, binary.Entry.Group)
	}

	r.examined.Add(binary.Entry.Source)
	r.binaries[binary.Entry.Target] = binary

	if soname := binary.Info.Soname; soname != "" {
		if prev, ok := ctx.sonames[soname]; ok {
			if prev.Entry.Source != binary.Entry.Source {
				return &ConflictError{What: "SONAME", Name: soname, First: prev.String(), Second: binary.String()}
			}
			if binary.Entry.Group < prev.Entry.Group {
				ctx.sonames[soname] = binary
			}
		} else {
			ctx.sonames[soname] = binary
		}
	}

	// The PT_INTERP is implicitly required from an auxiliary manifest.
	if interp := binary.Info.Interp; interp != "" {
		if _, err := r.addAuxiliary(binary, ctx, "lib/"+strings.TrimLeft(interp, "/"), true, nil); err != nil {
			return err
		}
	}

	for _, req := range ctx.variant.Aux {
		if _, err := r.addAuxiliary(binary, ctx, req.Target, true, req.Group); err != nil {
			return err
		}
	}

	for _, soname := range binary.Info.Needed {
		if soname == vdsoSoname {
			continue
		}
		if lib, ok := ctx.sonames[soname]; ok && lib.Entry.Group <= binary.Entry.Group {
			continue // already handled in the same or an earlier group
		}
		if err := r.addNeeded(binary, ctx, soname, auxiliary); err != nil {
			return err
		}
	}
	return nil
}

// addAuxiliary adds target from the auxiliary manifests on behalf of
// binary. A nil group inherits binary's group and context; an explicit group
// starts a new root.
func (r *Resolver) addAuxiliary(binary BinaryEntry, ctx *resolveContext, target string, required bool, group *int) (bool, error) {
	auxGroup := binary.Entry.Group
	auxCtx := ctx
	if group != nil {
		auxGroup = *group
		auxCtx = nil
	}

	auxBinary, ok := r.aux[target]
	if !ok {
		if required {
			return false, &MissingDependencyError{Target: target, NeededBy: binary.String(), Root: ctx.root.String()}
		}
		return false, nil
	}
	return true, r.addBinary(auxBinary.withGroup(auxGroup), auxCtx, true)
}

func (r *Resolver) addNeeded(binary BinaryEntry, ctx *resolveContext, soname string, auxiliary bool) error {
	file := soname
	if soname == libcSoname {
		file = loaderSoname
	}
	prefix := ctx.variant.LibPrefix
	if file == ctx.variant.Runtime {
		prefix = ""
	}
	target := "lib/" + prefix + file

	found, err := r.addAuxiliary(binary, ctx, target, false, nil)
	if err != nil || found {
		return err
	}

	if auxiliary {
		return &AuxiliaryChainError{Target: target, NeededBy: binary.String(), Root: ctx.root.String()}
	}

	// It must be in the shared toolchain output directory, inheriting the
	// dependent's group and context.
	source := filepath.Join(ctx.variant.SharedToolchain, file)
	r.examined.Add(source)
	if _, err := os.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return &MissingDependencyError{
				Target:    target,
				NeededBy:  binary.String(),
				Root:      ctx.root.String(),
				SearchDir: ctx.variant.SharedToolchain,
			}
		}
		return &ProbeError{Entry: source, Err: err}
	}

	libEntry := binary.Entry
	libEntry.Source = source
	libEntry.Target = target
	info, err := r.provider.BinaryInfo(source)
	if err != nil {
		return &ProbeError{Entry: libEntry.String(), Err: err}
	}
	if info == nil || info.Soname != soname {
		return fmt.Errorf("SONAME %q expected in %s, needed by %s via %s", soname, libEntry, binary, ctx.root)
	}
	return r.addBinary(BinaryEntry{Entry: libEntry, Info: info}, ctx, false)
}
