// Package buildinfo holds build-time metadata and config-diagnostic
// state that is deliberately kept separate from the user-facing
// settings tree in internal/conf: a Version/BuildDate/SystemID trio
// injected at startup via -ldflags, plus a ValidationResult type conf
// uses to report soft configuration warnings without mixing them into
// the settings struct itself.
package buildinfo

import "github.com/google/uuid"

// UnknownValue is returned for any field that was never set.
const UnknownValue = "unknown"

// BuildInfo exposes the metadata a Context carries, so callers (crash
// reporting tags, the version subcommand) can depend on an interface
// instead of the concrete struct.
type BuildInfo interface {
	Version() string
	BuildDate() string
	SystemID() string
}

// Context carries build-time metadata injected at startup: Version and
// BuildDate come from -ldflags, SystemID identifies a deployment for
// crash-report correlation without naming the operator.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext builds a Context from the three raw strings. An empty
// systemID is replaced with a freshly generated UUID, so a process that
// never configured one still reports a stable identifier for its
// lifetime.
func NewContext(version, buildDate, systemID string) *Context {
	if systemID == "" {
		systemID = uuid.NewString()
	}
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// Version returns the build version string, or UnknownValue if unset.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date string, or UnknownValue if unset.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// SystemID returns the system identifier, or UnknownValue if unset.
func (c *Context) SystemID() string {
	if c == nil || c.systemID == "" {
		return UnknownValue
	}
	return c.systemID
}

// GetVersion is a deprecated alias kept for call sites written against
// the original accessor names.
func (c *Context) GetVersion() string { return c.Version() }

// GetBuildDate is a deprecated alias for BuildDate.
func (c *Context) GetBuildDate() string { return c.BuildDate() }

// GetSystemID is a deprecated alias for SystemID.
func (c *Context) GetSystemID() string { return c.SystemID() }

// ValidationResult holds soft configuration warnings and hard errors
// separately from the settings tree (internal/conf.validateSettings
// returns a plain error for the latter; ValidationResult is for
// advisory diagnostics surfaced by the config subcommand).
type ValidationResult struct {
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Valid    bool     `json:"valid"`
}

// NewValidationResult creates a ValidationResult with Valid set to true.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddWarning records a non-fatal configuration concern.
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// AddError records a fatal configuration concern and flips Valid false.
func (r *ValidationResult) AddError(message string) {
	r.Errors = append(r.Errors, message)
	r.Valid = false
}

// HasIssues reports whether any warning or error was recorded.
func (r *ValidationResult) HasIssues() bool {
	return len(r.Warnings) > 0 || len(r.Errors) > 0
}
