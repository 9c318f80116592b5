// Package console classifies the invocation environment.
//
// The classifier decides whether proctor was invoked from an interactive
// console (a developer watching the run) or by an automated caller (CI,
// another orchestrator). Interactive callers get a mirrored human-facing
// stream; automated callers read the machine-facing artifacts instead.
package console

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Context is the classified caller context.
type Context struct {
	// Interactive is true when output should stream to the console.
	Interactive bool
	// Reason names the rule that decided the classification.
	Reason string
}

// ciMarkers are environment variables whose presence indicates an automated
// caller. BUILD_NUMBER covers Jenkins-style runners without JENKINS_URL.
var ciMarkers = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"JENKINS_URL",
	"BUILD_NUMBER",
}

// Classify inspects stdout and the environment.
//
// Precedence:
//  1. PROCTOR_NONINTERACTIVE forces silent/file-only output
//  2. PROCTOR_INTERACTIVE=1 forces console streaming
//  3. any CI marker env var means automated
//  4. otherwise, stdout being a TTY decides
func Classify(stdout *os.File, getenv func(string) string) Context {
	if truthy(getenv("PROCTOR_NONINTERACTIVE")) {
		return Context{Interactive: false, Reason: "PROCTOR_NONINTERACTIVE set"}
	}
	if truthy(getenv("PROCTOR_INTERACTIVE")) {
		return Context{Interactive: true, Reason: "PROCTOR_INTERACTIVE set"}
	}
	for _, marker := range ciMarkers {
		if getenv(marker) != "" {
			return Context{Interactive: false, Reason: "CI marker " + marker}
		}
	}
	if stdout != nil && (isatty.IsTerminal(stdout.Fd()) || isatty.IsCygwinTerminal(stdout.Fd())) {
		return Context{Interactive: true, Reason: "stdout is a TTY"}
	}
	return Context{Interactive: false, Reason: "stdout is not a TTY"}
}

// ClassifyDefault classifies using the process's real stdout and environment.
func ClassifyDefault() Context {
	return Classify(os.Stdout, os.Getenv)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
