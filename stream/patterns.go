// Package stream interprets the suite's live log output.
//
// Two independent consumers share one pattern vocabulary: the Tracker infers
// progress state (phase, current test, activity) and the Detector classifies
// fatal conditions. Both consume one line at a time, synchronously, from the
// supervisor's read loop.
//
// The pattern tables are versioned, named classifiers. Unit tests pin each
// classifier to literal sample lines so wording drift in the suite is caught
// by a fast-failing test instead of silent misclassification.
package stream

import "regexp"

// PatternTableVersion identifies the marker vocabulary revision.
// Bump whenever a classifier regex changes meaning.
const PatternTableVersion = 3

// Progress classifiers, in match priority order. First match wins per line.
var (
	// testStartPattern matches the suite's per-test start marker, e.g.
	//   INFO testdb suite.tests.test_move: Starting TestAccountMove.test_post
	testStartPattern = regexp.MustCompile(`Starting ([A-Za-z_]\w*(?:\.\w+)+)`)

	// testFailPattern matches a reported test failure with its name.
	testFailPattern = regexp.MustCompile(`\bFAIL: ([A-Za-z_]\w*(?:\.\w+)*)`)

	// testErrorPattern matches a reported test error with its name.
	testErrorPattern = regexp.MustCompile(`\bERROR: ([A-Za-z_]\w*(?:\.\w+)*)`)

	// testPassPattern matches a reported per-test completion.
	testPassPattern = regexp.MustCompile(`\bOK: ([A-Za-z_]\w*(?:\.\w+)*)`)

	// summaryPattern matches the single-line aggregate summary, e.g.
	//   0 failed, 0 error(s) of 154 tests
	summaryPattern = regexp.MustCompile(`(\d+) failed, (\d+) error\(s\) of (\d+) tests`)

	// ranTestsPattern is the fallback aggregate marker, e.g. "Ran 42 tests".
	ranTestsPattern = regexp.MustCompile(`\bRan (\d+) tests?\b`)

	// failuresCountPattern pairs with ranTestsPattern, e.g. "failures=3".
	failuresCountPattern = regexp.MustCompile(`\bfailures=(\d+)`)

	// Phase transition keywords.
	loadingPattern = regexp.MustCompile(`(?i)loading (?:registry|\d+ modules|module )`)
	readyPattern   = regexp.MustCompile(`Registry loaded in|HTTP service running|server is ready`)
	jsPattern      = regexp.MustCompile(`Starting JS tests|JS test suite`)
	tourPattern    = regexp.MustCompile(`Running tour |tour started:`)
	hootPattern    = regexp.MustCompile(`\[HOOT\]|Starting HOOT suite`)
	donePattern    = regexp.MustCompile(`All post-tested|tests finished, shutting down`)
)

// UI-automation extras extracted by the result parser.
var (
	// consoleErrorPattern matches browser console errors surfaced by the
	// tour and hoot runners.
	consoleErrorPattern = regexp.MustCompile(`(?:Console error|UncaughtPromiseError|OwlError):? (.+)`)

	// tourStepFailPattern matches a tour failing at a named step.
	tourStepFailPattern = regexp.MustCompile(`[Tt]our ([\w.]+) failed at step ([^\s].*)`)
)

// Critical-condition classifiers. Ordered; first match anywhere in the run
// is sticky for the rest of the process.
var (
	storageConstraintPattern = regexp.MustCompile(`IntegrityError|duplicate key value violates unique constraint|violates (?:foreign key|not-null|check) constraint`)
	moduleFatalPattern       = regexp.MustCompile(`Failed to (?:load|initialize) (?:registry|module)|Fatal error while loading`)
	fatalLevelPattern        = regexp.MustCompile(`\bCRITICAL\b`)
	portConflictPattern      = regexp.MustCompile(`Address already in use|EADDRINUSE|port is already in use`)
	authorizationPattern     = regexp.MustCompile(`AccessError|AccessDenied\b|PermissionError`)
	validationPattern        = regexp.MustCompile(`ValidationError|UserError`)
	missingDepPattern        = regexp.MustCompile(`ModuleNotFoundError|ImportError: [Nn]o module named`)
	noTestsPattern           = regexp.MustCompile(`0 tests collected|[Nn]o tests found matching`)
)

// Discovery-failure diagnostics, inspected post-hoc by the result parser.
var (
	importFailurePattern   = regexp.MustCompile(`ImportError|ModuleNotFoundError`)
	noTestMethodsPattern   = regexp.MustCompile(`no test_ methods|has no attribute 'test_`)
	noDiscoveryMarkPattern = regexp.MustCompile(`[Nn]o tests? (?:found|collected|matching)`)
	dependencyErrorPattern = regexp.MustCompile(`unmet dependency|requires module`)
)

// MatchImportFailure reports whether the line records a module import failure.
func MatchImportFailure(line string) bool { return importFailurePattern.MatchString(line) }

// MatchDependencyError reports whether the line records an unmet module dependency.
func MatchDependencyError(line string) bool { return dependencyErrorPattern.MatchString(line) }

// MatchNoDiscoveryMark reports whether the suite said outright that nothing matched.
func MatchNoDiscoveryMark(line string) bool { return noDiscoveryMarkPattern.MatchString(line) }

// MatchNoTestMethods reports whether the suite loaded classes with no test methods.
func MatchNoTestMethods(line string) bool { return noTestMethodsPattern.MatchString(line) }
