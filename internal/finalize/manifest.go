package finalize

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestEntry maps an install target to a file in the build tree.
type ManifestEntry struct {
	Target   string
	Source   string
	Group    int    // output index, NoGroup when only auxiliary
	Manifest string // file the entry came from, for diagnostics
}

func (e ManifestEntry) String() string {
	if e.Group == NoGroup {
		return fmt.Sprintf("%s=%s (%s)", e.Target, e.Source, e.Manifest)
	}
	return fmt.Sprintf("%s=%s (%s, group %d)", e.Target, e.Source, e.Manifest, e.Group)
}

func (e ManifestEntry) withGroup(group int) ManifestEntry {
	e.Group = group
	return e
}

// GroupSelection picks which grouped entries of an input manifest are
// selected for output. The zero value selects nothing.
type GroupSelection struct {
	All   bool
	Names map[string]bool // "" selects entries without a group
}

func (g GroupSelection) selects(name string) bool {
	return g.All || g.Names[name]
}

func (g GroupSelection) explicit() bool {
	return !g.All && g.Names != nil
}

// parseGroups turns a --groups value into a selection.
func parseGroups(value string) GroupSelection {
	if value == "all" {
		return GroupSelection{All: true}
	}
	names := make(map[string]bool)
	for _, name := range strings.Split(value, ",") {
		names[name] = true
	}
	return GroupSelection{Names: names}
}

// InputManifest is one --manifest or --optional-manifest argument together
// with the options in effect where it appeared.
type InputManifest struct {
	File        string
	Cwd         string
	Groups      GroupSelection
	OutputGroup int    // index of the preceding --output, or NoGroup
	Standalone  string // preceding --standalone-output, if it came last
	Optional    bool
}

type rawEntry struct {
	group  string
	target string
	source string
}

// parseManifest reads manifest lines of the form [{group}]target=source.
func parseManifest(r io.Reader, name string) ([]rawEntry, error) {
	var entries []rawEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue // Skip empty lines and comments
		}

		var group string
		if strings.HasPrefix(line, "{") {
			end := strings.IndexByte(line, '}')
			if end < 0 {
				return nil, fmt.Errorf("%s:%d: unterminated group in %q", name, lineNo, line)
			}
			group = line[1:end]
			line = line[end+1:]
		}

		target, source, ok := strings.Cut(line, "=")
		if !ok || target == "" {
			return nil, fmt.Errorf("%s:%d: invalid manifest line %q", name, lineNo, line)
		}
		entries = append(entries, rawEntry{group: group, target: target, source: source})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest file %s: %w", name, err)
	}
	return entries, nil
}

// ingestManifest reads one input manifest and partitions it into selected
// and unselected entries. It also returns the set of groups seen.
func ingestManifest(in InputManifest) (selected, unselected []ManifestEntry, seen map[string]bool, err error) {
	rc, err := openManifest(in.File)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rc.Close()

	raw, err := parseManifest(rc, in.File)
	if err != nil {
		return nil, nil, nil, err
	}

	outputGroup := in.OutputGroup
	if in.Standalone != "" {
		outputGroup = 0
	}

	seen = make(map[string]bool)
	for _, r := range raw {
		seen[r.group] = true
		source := r.source
		if in.Cwd != "" && !filepath.IsAbs(source) {
			source = filepath.Join(in.Cwd, source)
		}
		entry := ManifestEntry{
			Target:   r.target,
			Source:   filepath.Clean(source),
			Group:    NoGroup,
			Manifest: in.File,
		}
		if in.Groups.selects(r.group) && outputGroup != NoGroup {
			selected = append(selected, entry.withGroup(outputGroup))
		} else {
			unselected = append(unselected, entry)
		}
	}
	return selected, unselected, seen, nil
}

// unusedGroups lists requested groups that no entry carried, sorted.
func unusedGroups(sel GroupSelection, seen map[string]bool) []string {
	if !sel.explicit() {
		return nil
	}
	var unused []string
	for name := range sel.Names {
		if name != "" && !seen[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	return unused
}

// formatManifest serializes entries in the order given.
func formatManifest(entries []ManifestEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Target)
		sb.WriteByte('=')
		sb.WriteString(e.Source)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func sortByTarget(entries []ManifestEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Target < entries[j].Target
	})
}
