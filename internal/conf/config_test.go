package conf

import (
	"strings"
	"testing"
)

func TestValidateSettingsRejectsZeroProtocolVersion(t *testing.T) {
	s := &Settings{}
	s.Devices.DefaultVolume = 1.0
	if err := validateSettings(s); err == nil {
		t.Fatal("expected error for zero protocol version")
	}
}

func TestValidateSettingsRejectsOutOfRangeVolume(t *testing.T) {
	s := &Settings{}
	s.Server.ProtocolVersion = 1
	s.Devices.DefaultVolume = 1.5
	if err := validateSettings(s); err == nil {
		t.Fatal("expected error for out-of-range default volume")
	}
}

func TestValidateSettingsDefaultsMaxChannels(t *testing.T) {
	s := &Settings{}
	s.Server.ProtocolVersion = 1
	s.Devices.DefaultVolume = 0.8
	if err := validateSettings(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DSP.MaxChannels != 20 {
		t.Fatalf("expected default max channels 20, got %d", s.DSP.MaxChannels)
	}
}

func TestDumpYAMLRendersConfiguredFields(t *testing.T) {
	s := &Settings{}
	s.Main.Name = "test-node"
	s.Server.ProtocolVersion = 1

	out, err := s.DumpYAML()
	if err != nil {
		t.Fatalf("unexpected DumpYAML error: %v", err)
	}
	if !strings.Contains(string(out), "test-node") {
		t.Fatalf("expected rendered YAML to contain the configured node name, got: %s", out)
	}
}
