package finalize

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// formatBuildIDs renders the build-ID index: one "<id> <absolute path>" line
// per debug file, sorted by ID. It returns the debug files in that order.
func formatBuildIDs(debugFiles map[string]*BinaryInfo) (string, []*BinaryInfo, error) {
	ids := make([]string, 0, len(debugFiles))
	for id := range debugFiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	ordered := make([]*BinaryInfo, 0, len(ids))
	for _, id := range ids {
		info := debugFiles[id]
		abs, err := filepath.Abs(info.Filename)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve %s: %w", info.Filename, err)
		}
		sb.WriteString(id + " " + abs + "\n")
		ordered = append(ordered, info)
	}
	return sb.String(), ordered, nil
}

// ReadBuildIDFile parses a build-ID index into a map from ID to path.
func ReadBuildIDFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open build ID file %s: %w", path, err)
	}
	defer file.Close()

	ids := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, filename, ok := strings.Cut(line, " ")
		if !ok || id == "" || filename == "" {
			return nil, fmt.Errorf("%s:%d: malformed build ID line %q", path, lineNo, line)
		}
		ids[id] = filename
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ids, nil
}
