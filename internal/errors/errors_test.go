package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestFastPathNoTelemetry(t *testing.T) {
	t.Parallel()

	SetTelemetryReporter(nil)
	ClearErrorHooks()

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != "unknown" {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestDetectCategoryFromDeviceSite(t *testing.T) {
	t.Parallel()

	reporter := &mockReporter{enabled: true}
	SetTelemetryReporter(reporter)
	defer SetTelemetryReporter(nil)

	ee := Newf("severe underrun: hardware level unreliable").Component("device").Build()
	if ee.Category != CategoryDevice {
		t.Errorf("expected CategoryDevice for underrun error, got %q", ee.Category)
	}
}

func TestDetectCategoryFromSchedulerSite(t *testing.T) {
	t.Parallel()

	reporter := &mockReporter{enabled: true}
	SetTelemetryReporter(reporter)
	defer SetTelemetryReporter(nil)

	ee := Newf("wake-up schedule missed deadline").Component("scheduler").Build()
	if ee.Category != CategoryScheduler {
		t.Errorf("expected CategoryScheduler for scheduling error, got %q", ee.Category)
	}
}

func TestDetectCategoryFromFloopSite(t *testing.T) {
	t.Parallel()

	reporter := &mockReporter{enabled: true}
	SetTelemetryReporter(reporter)
	defer SetTelemetryReporter(nil)

	ee := Newf("floop pair has no matching stream").Component("floop").Build()
	if ee.Category != CategoryFloop {
		t.Errorf("expected CategoryFloop for floop error, got %q", ee.Category)
	}
}

func TestExplicitCategoryOverridesDetection(t *testing.T) {
	t.Parallel()

	ee := Newf("generic failure").Component("device").Category(CategoryShm).Build()
	if ee.Category != CategoryShm {
		t.Errorf("explicit category should win over component heuristics, got %q", ee.Category)
	}
}

func TestShouldReportToSentryFiltersUnplugged(t *testing.T) {
	t.Parallel()

	unplugged := Newf("no such device").Component("device").Category(CategoryDevice).Build()
	if shouldReportToSentry(unplugged) {
		t.Error("expected hot-unplug device error to be filtered from Sentry")
	}

	severe := Newf("severe underrun: hardware level unreliable").Component("device").Category(CategoryDevice).Build()
	if !shouldReportToSentry(severe) {
		t.Error("expected severe underrun to still be reported")
	}
}

func TestRegexPrecompilation(t *testing.T) {
	t.Parallel()

	testMessage1 := "Error at https://api.example.com?api_key=secret123&token=abc"
	scrubbed1 := basicURLScrub(testMessage1)
	expected1 := "Error at https://api.example.com?[REDACTED]"
	if scrubbed1 != expected1 {
		t.Errorf("URL scrubbing failed. Expected: %s, got: %s", expected1, scrubbed1)
	}

	testMessage2 := "Config error: api_key=secret123 is invalid"
	scrubbed2 := basicURLScrub(testMessage2)
	if !strings.Contains(scrubbed2, "[API_KEY_REDACTED]") {
		t.Errorf("API key scrubbing failed. Expected to contain '[API_KEY_REDACTED]', got: %s", scrubbed2)
	}

	testMessage3 := "Auth failed with token=abc123 and auth=xyz789"
	scrubbed3 := basicURLScrub(testMessage3)
	if strings.Contains(scrubbed3, "abc123") || strings.Contains(scrubbed3, "xyz789") {
		t.Errorf("Token scrubbing failed. Sensitive data still present: %s", scrubbed3)
	}
}
