package finalize

import (
	"github.com/gookit/color"
)

// Global variables
var (
	Debug       bool
	Verbose     bool
	ConfigFile  = ""
	version     = "dev" //default version; overridden at build time
	StrippedDir = "stripped"
)

const (
	// NoGroup marks an entry that is not destined for any numbered output.
	NoGroup = -1

	// Targets under this prefix are never inspected as binaries.
	dataPrefix = "data/"

	// The vDSO is not a file.
	vdsoSoname = "libzircon.so"

	// The DT_SONAME is libc.so, but the file on disk is the loader.
	libcSoname   = "libc.so"
	loaderSoname = "ld.so.1"
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
