package finalize

import "fmt"

// ConflictError reports two records claiming the same target, SONAME or
// pattern match with different sources.
type ConflictError struct {
	What   string // "target", "SONAME" or "pattern match"
	Name   string
	First  string
	Second string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q in both %s and %s", e.What, e.Name, e.First, e.Second)
}

// MissingDependencyError reports a loader, variant auxiliary or DT_NEEDED
// library that could not be found.
type MissingDependencyError struct {
	Target    string
	NeededBy  string
	Root      string
	SearchDir string
}

func (e *MissingDependencyError) Error() string {
	where := "auxiliary manifests"
	if e.SearchDir != "" {
		where = "auxiliary manifests or " + e.SearchDir
	}
	msg := fmt.Sprintf("%q not in %s, needed by %s", e.Target, where, e.NeededBy)
	if e.Root != "" && e.Root != e.NeededBy {
		msg += " via " + e.Root
	}
	return msg
}

// AuxiliaryChainError reports a dependency of an auxiliary binary that is
// not itself available from the auxiliary manifests.
type AuxiliaryChainError struct {
	Target   string
	NeededBy string
	Root     string
}

func (e *AuxiliaryChainError) Error() string {
	return fmt.Sprintf("missing %q needed by auxiliary %s via %s", e.Target, e.NeededBy, e.Root)
}

// ProbeError wraps an I/O failure while reading binary metadata.
type ProbeError struct {
	Entry string
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%v from %s", e.Err, e.Entry)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// StripConsistencyError reports a broken stripped/debug pair.
type StripConsistencyError struct {
	File   string
	Reason string
}

func (e *StripConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}
