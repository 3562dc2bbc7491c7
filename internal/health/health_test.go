package health

import (
	"sync/atomic"
	"testing"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("audio", true, "arecord")

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	audio, ok := status.Components["audio"]
	if !ok {
		t.Fatal("expected audio component")
	}
	if !audio.Healthy {
		t.Error("expected audio to be healthy")
	}
	if audio.Message != "arecord" {
		t.Errorf("expected message 'arecord', got %s", audio.Message)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("pipeline", true, "ok")
	checker.SetComponent("telemetry", false, "disconnected")

	if status := checker.GetStatus(); status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}
	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("telemetry", false, "error")
	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	checker.SetComponent("telemetry", true, "recovered")
	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}
}

func TestChecker_ProbeEvaluatedOnRead(t *testing.T) {
	checker := NewChecker("1.0.0")

	var connected atomic.Bool
	var calls atomic.Int32
	checker.Register("telemetry", func() (bool, string) {
		calls.Add(1)
		if connected.Load() {
			return true, "connected"
		}
		return false, "connecting"
	})

	status := checker.GetStatus()
	if status.Status != "degraded" {
		t.Errorf("expected degraded while probe fails, got %s", status.Status)
	}
	if status.Components["telemetry"].Message != "connecting" {
		t.Errorf("unexpected message %q", status.Components["telemetry"].Message)
	}

	connected.Store(true)
	if !checker.IsHealthy() {
		t.Error("expected healthy once probe passes")
	}
	if calls.Load() != 2 {
		t.Errorf("probe called %d times, want 2", calls.Load())
	}
}

func TestChecker_ProbeOverridesComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("pipeline", false, "stale")
	checker.Register("pipeline", func() (bool, string) { return true, "emitting" })

	status := checker.GetStatus()
	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}
	if c := status.Components["pipeline"]; !c.Healthy || c.Message != "emitting" {
		t.Errorf("probe should win, got %+v", c)
	}
}

func TestChecker_FailingSorted(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("telemetry", false, "disconnected")
	checker.SetComponent("pipeline", true, "")
	checker.Register("audio", func() (bool, string) { return false, "arecord not capturing" })

	status := checker.GetStatus()
	if status.Status != StateDegraded {
		t.Errorf("expected degraded, got %s", status.Status)
	}
	if len(status.Failing) != 2 || status.Failing[0] != "audio" || status.Failing[1] != "telemetry" {
		t.Errorf("failing = %v, want [audio telemetry]", status.Failing)
	}
}

func TestChecker_SetAfterRegisterKeepsProbe(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.Register("telemetry", func() (bool, string) { return true, "connected" })
	checker.SetComponent("telemetry", false, "stale push")

	if !checker.IsHealthy() {
		t.Error("probe should decide the state")
	}
	if f := checker.GetStatus().Failing; len(f) != 0 {
		t.Errorf("failing = %v, want none", f)
	}
}
