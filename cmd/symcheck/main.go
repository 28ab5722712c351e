// Command symcheck verifies that a debug archive holds every debug file
// listed in a build-ID index.
package main

import (
	"fmt"
	"os"
	"sort"

	"finalize/internal/finalize"
	"github.com/gookit/color"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: symcheck <build-id-file> <debug-archive.tar.zst>")
		os.Exit(2)
	}
	buildIDFile, archivePath := os.Args[1], os.Args[2]
	fmt.Printf("Checking %s against %s...\n", archivePath, buildIDFile)

	want, err := finalize.ReadBuildIDFile(buildIDFile)
	if err != nil {
		color.Error.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	have, err := finalize.ReadDebugArchiveIDs(archivePath)
	if err != nil {
		color.Error.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	var missing []string
	for id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		fmt.Printf("missing %s (%s)\n", id, want[id])
	}
	if len(missing) > 0 {
		color.Error.Printf("%d of %d debug files missing\n", len(missing), len(want))
		os.Exit(1)
	}
	color.Info.Printf("All %d debug files present\n", len(want))
}
