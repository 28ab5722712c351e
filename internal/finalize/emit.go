package finalize

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Options describes one run: where entries come from and where the
// finalized manifests go.
type Options struct {
	Inputs        []InputManifest
	Outputs       []string // numbered outputs; index is the group
	Standalone    []string // standalone (archive) outputs
	Binaries      []InputBinary
	BuildIDFile   string
	Depfile       string
	DebugArchive  string
	UploadSymbols bool
}

// SymbolUploader publishes debug files for symbolization.
type SymbolUploader interface {
	Upload(ctx context.Context, debugFiles []*BinaryInfo) error
}

// Finalizer owns the state of one run.
type Finalizer struct {
	Provider    MetadataProvider
	Variants    VariantResolver
	Uploader    SymbolUploader
	StrippedDir string

	Examined Examined
	Warnings []string
}

func NewFinalizer(provider MetadataProvider, variants VariantResolver, strippedDir string) *Finalizer {
	return &Finalizer{
		Provider:    provider,
		Variants:    variants,
		StrippedDir: strippedDir,
		Examined:    make(Examined),
	}
}

func (f *Finalizer) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	f.Warnings = append(f.Warnings, msg)
	colArrow.Print("-> ")
	colWarn.Printf("WARNING: %s\n", msg)
}

// Ingested holds the input manifests after selection.
type Ingested struct {
	Selected         []ManifestEntry
	Unselected       []ManifestEntry
	Standalone       map[string][]ManifestEntry
	StandaloneUnused map[string][]ManifestEntry
}

// Ingest reads every input manifest.
func (f *Finalizer) Ingest(inputs []InputManifest) (*Ingested, error) {
	in := &Ingested{
		Standalone:       make(map[string][]ManifestEntry),
		StandaloneUnused: make(map[string][]ManifestEntry),
	}
	for _, input := range inputs {
		if input.Optional && !fileExists(input.File) {
			debugf("Skipping missing optional manifest %s\n", input.File)
			continue
		}
		f.Examined.Add(input.File)

		selected, unselected, seen, err := ingestManifest(input)
		if err != nil {
			return nil, err
		}

		if unused := unusedGroups(input.Groups, seen); len(unused) > 0 {
			var others []string
			for name := range seen {
				if name != "" && !input.Groups.Names[name] {
					others = append(others, name)
				}
			}
			sort.Strings(others)
			f.warnf("%s not found in %s; try one of: %s",
				strings.Join(unused, ", "), input.File, strings.Join(others, ", "))
		}

		if input.Standalone != "" {
			in.Standalone[input.Standalone] = append(in.Standalone[input.Standalone], selected...)
			in.StandaloneUnused[input.Standalone] = append(in.StandaloneUnused[input.Standalone], unselected...)
			continue
		}
		in.Selected = append(in.Selected, selected...)
		in.Unselected = append(in.Unselected, unselected...)
	}

	names := make([]string, 0, len(in.StandaloneUnused))
	for name := range in.StandaloneUnused {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		unused := in.StandaloneUnused[name]
		if len(unused) == 0 {
			continue
		}
		colArrow.Print("-> ")
		colNote.Printf("NOTE: unused files from %s\n", name)
		for _, entry := range unused {
			fmt.Printf("\t%s\n", entry)
		}
	}
	return in, nil
}

// Result reports what a run produced.
type Result struct {
	Written    []string
	Unchanged  []string
	Binaries   []BinaryEntry
	DebugFiles []*BinaryInfo
}

func (r *Result) record(file string, wrote bool) {
	if wrote {
		r.Written = append(r.Written, file)
	} else {
		r.Unchanged = append(r.Unchanged, file)
	}
}

// Run ingests the inputs and emits every output.
func (f *Finalizer) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.Outputs) == 0 && len(opts.Standalone) == 0 {
		return nil, fmt.Errorf("no --output or --standalone-output given")
	}
	if opts.BuildIDFile == "" {
		return nil, fmt.Errorf("--build-id-file is required")
	}
	for _, b := range opts.Binaries {
		if b.Group < 0 || b.Group >= len(opts.Outputs) {
			return nil, fmt.Errorf("--binary=%q has no preceding --output", b.Pattern)
		}
	}
	if opts.UploadSymbols && f.Uploader == nil {
		return nil, fmt.Errorf("--upload-symbols needs FINALIZE_SYMBOL_BUCKET")
	}

	in, err := f.Ingest(opts.Inputs)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = withExclusiveLock(f.StrippedDir, func() error {
		var err error
		result, err = f.emit(ctx, opts, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// pendingWrite is an output body held back until every output is known to
// be good.
type pendingWrite struct {
	file     string
	contents []byte
}

func (f *Finalizer) emit(ctx context.Context, opts Options, in *Ingested) (*Result, error) {
	result := &Result{}
	var writes []pendingWrite

	aux, err := CollectAuxiliaries(in.Unselected, f.Provider, f.Examined)
	if err != nil {
		return nil, err
	}
	binaries, nonbinaries, err := NewResolver(f.Provider, f.Variants, aux, f.Examined).CollectBinaries(in.Selected, opts.Binaries)
	if err != nil {
		return nil, err
	}

	binaries, debugFiles, err := f.StripBinaries(binaries)
	if err != nil {
		return nil, err
	}
	result.Binaries = binaries

	// Collate groups.
	outputs := make([][]ManifestEntry, len(opts.Outputs))
	collate := func(entry ManifestEntry) error {
		if entry.Group == NoGroup {
			return nil
		}
		if entry.Group >= len(outputs) {
			return fmt.Errorf("%s has no output manifest", entry)
		}
		outputs[entry.Group] = append(outputs[entry.Group], entry.withGroup(NoGroup))
		return nil
	}
	for _, b := range binaries {
		if err := collate(b.Entry); err != nil {
			return nil, err
		}
	}
	for _, entry := range nonbinaries {
		if err := collate(entry); err != nil {
			return nil, err
		}
	}

	allBinaries := make(map[string]ManifestEntry)
	allDebugFiles := make(map[string]*BinaryInfo)
	recordBuildIDs := func(binaries []BinaryEntry, debugFiles []*BinaryInfo) {
		for _, b := range binaries {
			if b.Info.BuildID != "" {
				allBinaries[b.Info.BuildID] = b.Entry
			}
		}
		for _, d := range debugFiles {
			allDebugFiles[d.BuildID] = d
		}
	}
	recordBuildIDs(binaries, debugFiles)

	// Every shared library used by any standalone output also goes into the
	// last numbered output, so the system loader can always find it.
	globalSonames := make(map[string]bool)
	for _, b := range binaries {
		if b.Info.Soname != "" {
			globalSonames[b.Info.Soname] = true
		}
	}

	// Standalone outputs reuse the auxiliary index but compute their own
	// closure, so they may pick different variants than the system image.
	for _, output := range opts.Standalone {
		binaries, nonbinaries, err := NewResolver(f.Provider, f.Variants, aux, f.Examined).CollectBinaries(in.Standalone[output], nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", output, err)
		}

		// Binaries already finalized elsewhere keep their stripped copy
		// and debug pairing.
		var reused []ManifestEntry
		var fresh []BinaryEntry
		for _, b := range binaries {
			if entry, ok := allBinaries[b.Info.BuildID]; ok && b.Info.BuildID != "" {
				entry.Target = b.Entry.Target
				reused = append(reused, entry)
			} else {
				fresh = append(fresh, b)
			}
		}

		stripped, debugFiles, err := f.StripBinaries(fresh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", output, err)
		}
		recordBuildIDs(stripped, debugFiles)
		result.Binaries = append(result.Binaries, stripped...)

		for _, b := range stripped {
			if b.Info.Soname != "" && !globalSonames[b.Info.Soname] {
				if len(outputs) > 0 {
					outputs[len(outputs)-1] = append(outputs[len(outputs)-1], b.Entry.withGroup(NoGroup))
				}
				globalSonames[b.Info.Soname] = true
			}
		}

		var entries []ManifestEntry
		entries = append(entries, reused...)
		for _, b := range stripped {
			entries = append(entries, b.Entry)
		}
		entries = append(entries, nonbinaries...)
		for i := range entries {
			entries[i] = entries[i].withGroup(NoGroup)
		}
		sortByTarget(entries)
		writes = append(writes, pendingWrite{output, []byte(formatManifest(entries))})
	}

	for i, file := range opts.Outputs {
		sortByTarget(outputs[i])
		writes = append(writes, pendingWrite{file, []byte(formatManifest(outputs[i]))})
	}

	buildIDs, ordered, err := formatBuildIDs(allDebugFiles)
	if err != nil {
		return nil, err
	}
	result.DebugFiles = ordered
	writes = append(writes, pendingWrite{opts.BuildIDFile, []byte(buildIDs)})

	if opts.DebugArchive != "" {
		data, err := buildDebugArchive(result.DebugFiles)
		if err != nil {
			return nil, err
		}
		writes = append(writes, pendingWrite{opts.DebugArchive, data})
	}

	if opts.Depfile != "" {
		var primary string
		if len(opts.Outputs) > 0 {
			primary = opts.Outputs[0]
		} else {
			primary = opts.Standalone[0]
		}
		writes = append(writes, pendingWrite{opts.Depfile, []byte(formatDepfile(primary, f.Examined.Sorted()))})
	}

	for _, w := range writes {
		wrote, err := updateFile(w.file, w.contents)
		if err != nil {
			return nil, err
		}
		result.record(w.file, wrote)
	}

	if opts.UploadSymbols {
		if err := f.Uploader.Upload(ctx, result.DebugFiles); err != nil {
			return nil, fmt.Errorf("failed to upload symbols: %w", err)
		}
	}

	return result, nil
}
