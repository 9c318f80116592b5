package runtime

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/proctor/stream"
)

// maxDiagnosisSamples caps how many transcript lines each diagnosis quotes.
const maxDiagnosisSamples = 3

// DiagnoseDiscovery explains why a run selected zero tests despite exiting
// cleanly. Explanations are ordered by likelihood: hard import failures
// first, then unmet module dependencies, then explicit empty-selection
// markers, then loaded-but-empty test classes, and finally a generic filter
// hint when the transcript offers nothing better. The result is never empty.
func DiagnoseDiscovery(transcript []string) []string {
	var (
		imports      []string
		dependencies []string
		noneMatched  bool
		noMethods    bool
	)

	for _, line := range transcript {
		trimmed := strings.TrimSpace(line)
		switch {
		case stream.MatchImportFailure(trimmed):
			if len(imports) < maxDiagnosisSamples {
				imports = append(imports, trimmed)
			}
		case stream.MatchDependencyError(trimmed):
			if len(dependencies) < maxDiagnosisSamples {
				dependencies = append(dependencies, trimmed)
			}
		case stream.MatchNoDiscoveryMark(trimmed):
			noneMatched = true
		case stream.MatchNoTestMethods(trimmed):
			noMethods = true
		}
	}

	var diagnosis []string
	for _, line := range imports {
		diagnosis = append(diagnosis, fmt.Sprintf("test module failed to import: %s", line))
	}
	for _, line := range dependencies {
		diagnosis = append(diagnosis, fmt.Sprintf("module has unmet dependencies: %s", line))
	}
	if noneMatched {
		diagnosis = append(diagnosis, "the suite reported that no tests matched the selection filter; check the phase's filter value against the installed modules")
	}
	if noMethods {
		diagnosis = append(diagnosis, "test classes were loaded but none define test_-prefixed methods")
	}
	if len(diagnosis) == 0 {
		diagnosis = append(diagnosis, "no per-test start markers were observed; the selection filter may not match any installed module, or the modules under test are not installed in the phase database")
	}
	return diagnosis
}
