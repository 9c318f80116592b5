package console

import (
	"os"
	"testing"
)

func envOf(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestClassify_CIMarkerWins(t *testing.T) {
	tests := []struct {
		name   string
		marker string
	}{
		{"generic CI", "CI"},
		{"github actions", "GITHUB_ACTIONS"},
		{"gitlab", "GITLAB_CI"},
		{"jenkins url", "JENKINS_URL"},
		{"jenkins build number", "BUILD_NUMBER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := Classify(nil, envOf(map[string]string{tt.marker: "true"}))
			if ctx.Interactive {
				t.Errorf("Interactive = true with %s set, want false", tt.marker)
			}
			if ctx.Reason == "" {
				t.Error("Reason is empty")
			}
		})
	}
}

func TestClassify_ForceNoninteractiveOverridesForceInteractive(t *testing.T) {
	ctx := Classify(nil, envOf(map[string]string{
		"PROCTOR_NONINTERACTIVE": "1",
		"PROCTOR_INTERACTIVE":    "1",
	}))
	if ctx.Interactive {
		t.Error("PROCTOR_NONINTERACTIVE should take precedence")
	}
}

func TestClassify_ForceInteractiveOverridesCI(t *testing.T) {
	ctx := Classify(nil, envOf(map[string]string{
		"PROCTOR_INTERACTIVE": "yes",
		"CI":                  "true",
	}))
	if !ctx.Interactive {
		t.Error("PROCTOR_INTERACTIVE should override CI markers")
	}
}

func TestClassify_PipeIsNotInteractive(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer func() { _ = r.Close(); _ = w.Close() }()

	ctx := Classify(w, envOf(nil))
	if ctx.Interactive {
		t.Error("a pipe must classify as non-interactive")
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"YES", true},
		{" on ", true},
		{"", false},
		{"0", false},
		{"false", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		if got := truthy(tt.in); got != tt.want {
			t.Errorf("truthy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
