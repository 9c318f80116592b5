package stream

import (
	"testing"

	"github.com/pithecene-io/proctor/types"
)

func TestDetector_Classification(t *testing.T) {
	tests := []struct {
		name string
		line string
		want types.CriticalCategory
	}{
		{
			"integrity error",
			`ERROR testdb app.sql_db: IntegrityError: duplicate key value violates unique constraint "res_partner_email_uniq"`,
			types.CriticalStorageConstraint,
		},
		{
			"foreign key violation",
			`ERROR testdb app.sql_db: insert or update violates foreign key constraint "account_move_journal_fk"`,
			types.CriticalStorageConstraint,
		},
		{
			"registry load failure",
			"ERROR ? app.modules.loading: Failed to load registry: module account not found in path",
			types.CriticalModuleFatal,
		},
		{
			"critical log level",
			"2026-08-26 10:01:44,002 CRITICAL testdb app.service.server: unhandled exception in worker",
			types.CriticalFatalLogLevel,
		},
		{
			"port in use",
			"ERROR ? app.service.server: OSError: [Errno 98] Address already in use",
			types.CriticalPortConflict,
		},
		{
			"access error",
			"ERROR testdb app.http: AccessError: You are not allowed to modify this record",
			types.CriticalAuthorization,
		},
		{
			"validation error",
			"ERROR testdb app.http: ValidationError: The closing date must follow the opening date",
			types.CriticalValidation,
		},
		{
			"missing import",
			"ERROR ? app.modules: ImportError: No module named 'requests_oauth'",
			types.CriticalMissingDependency,
		},
		{
			"zero tests collected",
			"WARNING testdb app.tests: 0 tests collected for tags /account",
			types.CriticalNoTestsDiscovered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			got := d.Scan(tt.line, types.ProgressSnapshot{Phase: types.PhaseTesting})
			if got == nil {
				t.Fatalf("Scan(%q) = nil, want category %q", tt.line, tt.want)
			}
			if got.Category != tt.want {
				t.Errorf("Category = %q, want %q", got.Category, tt.want)
			}
			if got.TriggeringLine != tt.line {
				t.Errorf("TriggeringLine = %q, want the scanned line", got.TriggeringLine)
			}
		})
	}
}

func TestDetector_FirstMatchSticky(t *testing.T) {
	d := NewDetector()
	snap := types.ProgressSnapshot{Phase: types.PhaseTesting, CurrentTest: "TestAccountMove.test_post"}

	first := d.Scan("ERROR ? app.service.server: Address already in use", snap)
	if first == nil || first.Category != types.CriticalPortConflict {
		t.Fatalf("first scan = %+v, want port conflict", first)
	}

	// A later, different fatal line must not replace the record.
	second := d.Scan("CRITICAL testdb app: worker exploded", snap)
	if second != first {
		t.Error("second match replaced the sticky critical error")
	}
	if d.Critical().Category != types.CriticalPortConflict {
		t.Errorf("Critical().Category = %q, want %q", d.Critical().Category, types.CriticalPortConflict)
	}
}

func TestDetector_ExpectedFailureSuppression(t *testing.T) {
	constraintLine := `ERROR testdb app.sql_db: IntegrityError: duplicate key value violates unique constraint "uniq_code"`
	validationLine := "ERROR testdb app.http: ValidationError: negative quantity rejected"

	tests := []struct {
		name        string
		currentTest string
		line        string
		suppressed  bool
	}{
		{"constraint test suppresses constraint match", "TestPartner.test_unique_email_constraint", constraintLine, true},
		{"validation test suppresses validation match", "TestSale.test_invalid_discount", validationLine, true},
		{"duplicate token suppresses", "TestPartner.test_duplicate_vat", constraintLine, true},
		{"unrelated test does not suppress", "TestPartner.test_rename", constraintLine, false},
		{"no current test does not suppress", "", validationLine, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			snap := types.ProgressSnapshot{Phase: types.PhaseTesting, CurrentTest: tt.currentTest}
			got := d.Scan(tt.line, snap)
			if tt.suppressed && got != nil {
				t.Errorf("Scan = %+v, want suppression for test %q", got, tt.currentTest)
			}
			if !tt.suppressed && got == nil {
				t.Errorf("Scan = nil, want a critical error for test %q", tt.currentTest)
			}
		})
	}
}

func TestDetector_SuppressionDoesNotCoverFatalCategories(t *testing.T) {
	// Only constraint and validation matches honor the naming convention.
	d := NewDetector()
	snap := types.ProgressSnapshot{
		Phase:       types.PhaseTesting,
		CurrentTest: "TestPartner.test_unique_email_constraint",
	}
	got := d.Scan("CRITICAL testdb app.service: worker died", snap)
	if got == nil || got.Category != types.CriticalFatalLogLevel {
		t.Fatalf("Scan = %+v, want fatal_log_level despite suppressing test name", got)
	}
}

func TestDetector_RecordsContext(t *testing.T) {
	d := NewDetector()
	snap := types.ProgressSnapshot{Phase: types.PhaseTour, CurrentTest: "TestCheckout.test_flow"}

	got := d.Scan("ERROR ? app: Address already in use", snap)
	if got == nil {
		t.Fatal("no critical error recorded")
	}
	if got.Phase != types.PhaseTour {
		t.Errorf("Phase = %q, want %q", got.Phase, types.PhaseTour)
	}
	if got.CurrentTest != "TestCheckout.test_flow" {
		t.Errorf("CurrentTest = %q, want %q", got.CurrentTest, "TestCheckout.test_flow")
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}
