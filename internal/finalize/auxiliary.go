package finalize

import (
	"sort"
)

// BinaryEntry pairs a manifest entry with the metadata of its source.
type BinaryEntry struct {
	Entry ManifestEntry
	Info  *BinaryInfo
}

func (b BinaryEntry) String() string {
	return b.Entry.String()
}

func (b BinaryEntry) withGroup(group int) BinaryEntry {
	b.Entry = b.Entry.withGroup(group)
	return b
}

// AuxIndex maps install targets to the binaries auxiliary manifests supply.
type AuxIndex map[string]BinaryEntry

// Targets returns the indexed targets in sorted order.
func (a AuxIndex) Targets() []string {
	targets := make([]string, 0, len(a))
	for target := range a {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Examined is the set of every file looked at to make a decision.
type Examined map[string]struct{}

func (e Examined) Add(path string) {
	e[path] = struct{}{}
}

func (e Examined) Sorted() []string {
	files := make([]string, 0, len(e))
	for f := range e {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// CollectAuxiliaries indexes the binaries among the auxiliary entries.
func CollectAuxiliaries(entries []ManifestEntry, provider MetadataProvider, examined Examined) (AuxIndex, error) {
	aux := make(AuxIndex)
	for _, entry := range entries {
		examined.Add(entry.Source)
		info, err := provider.BinaryInfo(entry.Source)
		if err != nil {
			return nil, &ProbeError{Entry: entry.String(), Err: err}
		}
		if info == nil {
			continue
		}
		if existing, ok := aux[entry.Target]; ok {
			if existing.Entry.Source != entry.Source {
				return nil, &ConflictError{
					What:   "target",
					Name:   entry.Target,
					First:  existing.Entry.Manifest,
					Second: entry.Manifest,
				}
			}
			continue
		}
		aux[entry.Target] = BinaryEntry{Entry: entry, Info: info}
	}
	debugf("Indexed %d auxiliary binaries\n", len(aux))
	return aux, nil
}
