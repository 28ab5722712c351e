package finalize

import "fmt"

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}

// verbosef prints progress lines when Verbose or Debug is set
func verbosef(format string, args ...any) {
	if Verbose || Debug {
		colArrow.Print("-> ")
		colSuccess.Printf(format, args...)
	}
}
