package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/proctor/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proctor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("PGPASS", "sekret")
	path := writeConfig(t, `
suite:
  name: app
  command: ["./app-server", "--config", "app.conf"]
postgres:
  host: db.internal
  port: 5433
  username: proctor
  password: ${PGPASS}
store:
  prefix: proctor
  default_database: app_shared
  reference_database: app_reference
phases:
  - name: unit
    isolation: fresh-empty
    filter: unit
    timeout: 30m
    stall_thresholds:
      testing: 3m
  - name: tour
    isolation: clone-of-reference
    filter: tour
    link_filestore: true
    env:
      BROWSER: chromium
adapter:
  type: redis
  url: redis://localhost:6379
archive:
  bucket: artifacts
  prefix: proctor
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Suite.Name != "app" || len(cfg.Suite.Command) != 3 {
		t.Errorf("suite = %+v", cfg.Suite)
	}
	if cfg.Postgres.Password != "sekret" {
		t.Errorf("password = %q, env expansion failed", cfg.Postgres.Password)
	}
	if cfg.Adapter.Type != "redis" {
		t.Errorf("adapter type = %q", cfg.Adapter.Type)
	}

	descriptors, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("len(descriptors) = %d, want 2", len(descriptors))
	}

	unit := descriptors[0]
	if unit.Isolation != types.IsolationFreshEmpty || unit.BaseTimeout != 30*time.Minute {
		t.Errorf("unit descriptor = %+v", unit)
	}
	if unit.StallThresholds[types.PhaseTesting] != 3*time.Minute {
		t.Errorf("unit stall override = %v", unit.StallThresholds)
	}

	tour := descriptors[1]
	if tour.Isolation != types.IsolationClone || !tour.LinkFilestore {
		t.Errorf("tour descriptor = %+v", tour)
	}
	if tour.BaseTimeout != DefaultPhaseTimeout {
		t.Errorf("tour timeout = %v, want default", tour.BaseTimeout)
	}
	if tour.Env["BROWSER"] != "chromium" {
		t.Errorf("tour env = %v", tour.Env)
	}
}

func TestDescriptorsDefaultPlan(t *testing.T) {
	cfg := &Config{Suite: SuiteConfig{Command: []string{"./app-server"}}}

	descriptors, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if len(descriptors) != 3 {
		t.Fatalf("len(descriptors) = %d, want the 3-phase default plan", len(descriptors))
	}
	if descriptors[0].Name != "unit" || descriptors[2].Name != "tour" {
		t.Errorf("default plan order = %v, %v, %v",
			descriptors[0].Name, descriptors[1].Name, descriptors[2].Name)
	}
	if !descriptors[2].LinkFilestore {
		t.Error("default tour phase should link the filestore")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing command", Config{}},
		{
			"unknown isolation",
			Config{
				Suite:  SuiteConfig{Command: []string{"x"}},
				Phases: []PhaseConfig{{Name: "unit", Isolation: "shared"}},
			},
		},
		{
			"duplicate phase names",
			Config{
				Suite:  SuiteConfig{Command: []string{"x"}},
				Phases: []PhaseConfig{{Name: "unit"}, {Name: "unit"}},
			},
		},
		{
			"unknown lifecycle phase in stall table",
			Config{
				Suite: SuiteConfig{Command: []string{"x"}},
				Phases: []PhaseConfig{{
					Name:            "unit",
					StallThresholds: map[string]Duration{"warmup": {}},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}
