package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	backendmock "github.com/voicekit-labs/cascade/pkg/backend/mock"
)

func TestCalibrate_ProbesEveryBackend(t *testing.T) {
	t.Parallel()

	primary := &backendmock.Transcriber{Text: "p"}
	a := &backendmock.Transcriber{Text: "a"}
	b := &backendmock.Transcriber{Err: errors.New("server unreachable")}

	orch := newTestOrchestrator(t,
		map[string]*backendmock.Transcriber{"primary": primary, "a": a, "b": b},
		[]string{"a", "b"},
		Thresholds{RTF: 1, MemoryMB: 1},
	)

	results, err := orch.Calibrate(context.Background(), "sample.wav", 10*time.Second)
	if err != nil {
		t.Fatalf("Calibrate() unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Calibrate() returned %d results, want 3", len(results))
	}

	// Primary first, then chain order.
	if results[0].Config.ModelID != "primary" {
		t.Errorf("results[0] = %q, want primary", results[0].Config.ModelID)
	}
	if results[1].Config.ModelID != "a" || results[2].Config.ModelID != "b" {
		t.Errorf("chain results out of order: %q, %q",
			results[1].Config.ModelID, results[2].Config.ModelID)
	}

	if results[0].Err != nil || results[1].Err != nil {
		t.Errorf("healthy probes reported errors: %v, %v", results[0].Err, results[1].Err)
	}
	if results[2].Err == nil {
		t.Error("failing probe reported no error")
	}
	if results[1].RTF <= 0 {
		t.Errorf("results[1].RTF = %v, want positive", results[1].RTF)
	}
	if primary.CallCount() != 1 || a.CallCount() != 1 || b.CallCount() != 1 {
		t.Errorf("call counts = %d/%d/%d, want 1 each",
			primary.CallCount(), a.CallCount(), b.CallCount())
	}
}

func TestCalibrate_CancelledContext(t *testing.T) {
	t.Parallel()

	primary := &backendmock.Transcriber{Text: "p"}
	orch := newTestOrchestrator(t,
		map[string]*backendmock.Transcriber{"primary": primary},
		nil,
		Thresholds{RTF: 1, MemoryMB: 1},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := orch.Calibrate(ctx, "sample.wav", time.Second); err == nil {
		t.Fatal("Calibrate() with cancelled context succeeded, want error")
	}
}
