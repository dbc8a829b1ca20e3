package config

import "testing"

func TestParseResolvesPinMapRule(t *testing.T) {
	doc := []byte(`
mode: simulation
interface: parallel
input_pins:
  LPT_READY_0: 1
  LPT_READY_1: 8
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.InputPins["LPT_READY_0"]; got != 7 {
		t.Fatalf("bit for board pin 1 = %d, want 7 (bit = 8 - board_pin)", got)
	}
	if got := cfg.InputPins["LPT_READY_1"]; got != 0 {
		t.Fatalf("bit for board pin 8 = %d, want 0", got)
	}
}

func TestParseRejectsBoardPinOutOfRange(t *testing.T) {
	doc := []byte(`
mode: simulation
interface: parallel
input_pins:
  LPT_READY_0: 9
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("Parse: expected error for board pin 9 (out of 1-8 range)")
	}
}

func TestParseRejectsBoardPinZero(t *testing.T) {
	doc := []byte(`
mode: simulation
interface: parallel
input_pins:
  LPT_READY_0: 0
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("Parse: expected error for board pin 0 (out of 1-8 range)")
	}
}

func TestParseRejectsDuplicateBitAssignment(t *testing.T) {
	doc := []byte(`
mode: simulation
interface: parallel
input_pins:
  LPT_READY_0: 1
  LPT_ERROR_0: 1
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("Parse: expected error for two signals mapping to the same bit")
	}
}

func TestParseRejectsUnknownMode(t *testing.T) {
	doc := []byte(`
mode: bogus
interface: parallel
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("Parse: expected error for unknown operating mode")
	}
}

func TestParseRejectsUnknownInterface(t *testing.T) {
	doc := []byte(`
mode: simulation
interface: bogus
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("Parse: expected error for unknown interface kind")
	}
}

func TestParseAcceptsModeAliases(t *testing.T) {
	for _, alias := range []string{"production", "prod", "emulation", "em", "simulation", "sim"} {
		doc := []byte("mode: " + alias + "\ninterface: parallel\n")
		if _, err := Parse(doc); err != nil {
			t.Fatalf("Parse with mode alias %q: %v", alias, err)
		}
	}
}

func TestDefaultIsSimulationMode(t *testing.T) {
	cfg := Default()
	if cfg.Mode != ModeSimulation {
		t.Fatalf("Default().Mode = %s, want %s", cfg.Mode, ModeSimulation)
	}
	if cfg.Timeouts.TP3 == 0 {
		t.Fatalf("Default().Timeouts.TP3 = 0, want a positive default")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/e84.yaml"); err == nil {
		t.Fatalf("Load: expected error for missing file")
	}
}
