package buildinfo

import "testing"

func TestContextAccessorsFallBackToUnknown(t *testing.T) {
	var nilCtx *Context
	if got := nilCtx.Version(); got != UnknownValue {
		t.Errorf("Version() on nil context = %v, want %v", got, UnknownValue)
	}

	ctx := NewContext("", "", "node-1")
	if got := ctx.Version(); got != UnknownValue {
		t.Errorf("Version() with empty string = %v, want %v", got, UnknownValue)
	}
	if got := ctx.BuildDate(); got != UnknownValue {
		t.Errorf("BuildDate() with empty string = %v, want %v", got, UnknownValue)
	}
}

func TestNewContextGeneratesSystemIDWhenUnset(t *testing.T) {
	ctx := NewContext("1.2.3", "2026-01-01", "")
	if ctx.SystemID() == UnknownValue || ctx.SystemID() == "" {
		t.Fatalf("expected NewContext to generate a non-empty system id, got %q", ctx.SystemID())
	}

	other := NewContext("1.2.3", "2026-01-01", "")
	if other.SystemID() == ctx.SystemID() {
		t.Fatal("expected two empty-systemID contexts to generate distinct ids")
	}
}

func TestNewContextPreservesConfiguredFields(t *testing.T) {
	ctx := NewContext("1.2.3", "2026-01-01T00:00:00Z", "fixed-id")
	if got := ctx.Version(); got != "1.2.3" {
		t.Errorf("Version() = %v, want 1.2.3", got)
	}
	if got := ctx.BuildDate(); got != "2026-01-01T00:00:00Z" {
		t.Errorf("BuildDate() = %v, want 2026-01-01T00:00:00Z", got)
	}
	if got := ctx.SystemID(); got != "fixed-id" {
		t.Errorf("SystemID() = %v, want fixed-id", got)
	}
}

func TestDeprecatedAccessorsMatchCurrentOnes(t *testing.T) {
	ctx := NewContext("1.2.3", "2026-01-01", "fixed-id")
	if ctx.GetVersion() != ctx.Version() {
		t.Errorf("GetVersion() = %v, want %v", ctx.GetVersion(), ctx.Version())
	}
	if ctx.GetBuildDate() != ctx.BuildDate() {
		t.Errorf("GetBuildDate() = %v, want %v", ctx.GetBuildDate(), ctx.BuildDate())
	}
	if ctx.GetSystemID() != ctx.SystemID() {
		t.Errorf("GetSystemID() = %v, want %v", ctx.GetSystemID(), ctx.SystemID())
	}
}

func TestContextImplementsBuildInfo(t *testing.T) {
	var _ BuildInfo = (*Context)(nil)

	var info BuildInfo = NewContext("1.2.3", "2026-01-01", "fixed-id")
	if info.Version() != "1.2.3" {
		t.Errorf("BuildInfo.Version() = %v, want 1.2.3", info.Version())
	}
}

func TestValidationResultAccumulatesWarningsAndErrors(t *testing.T) {
	r := NewValidationResult()
	if !r.Valid || r.HasIssues() {
		t.Fatal("expected a fresh ValidationResult to be valid with no issues")
	}

	r.AddWarning("devices.lingertimeout is zero; devices will never linger-close")
	if !r.Valid {
		t.Error("a warning alone must not invalidate the result")
	}
	if !r.HasIssues() {
		t.Error("expected HasIssues() true after a warning")
	}

	r.AddError("server.protocolversion must be non-zero")
	if r.Valid {
		t.Error("expected an error to flip Valid false")
	}
	if len(r.Warnings) != 1 || len(r.Errors) != 1 {
		t.Errorf("expected 1 warning and 1 error, got %d/%d", len(r.Warnings), len(r.Errors))
	}
}
