package diag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "diag.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `timeout_threshold: 3
retransmit_window: 10
timers:
  t3450: 12
priorities:
  Detach: 90
disabled:
  - GUTIReallocation
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TimeoutThreshold != 3 {
		t.Errorf("Expected threshold 3, got %d", cfg.TimeoutThreshold)
	}
	if cfg.RetransmitWindow() != 10*time.Second {
		t.Errorf("Expected a 10s window, got %s", cfg.RetransmitWindow())
	}
	// Values the file does not mention keep their defaults.
	if cfg.HandoverWindowSec != 600 {
		t.Errorf("Expected the default handover window, got %d", cfg.HandoverWindowSec)
	}
	if cfg.Timers.T3450 != 12 || cfg.Timers.T3410 != 15 {
		t.Errorf("Expected only t3450 overridden, got %+v", cfg.Timers)
	}
	if cfg.Priorities[ProcDetach] != 90 {
		t.Errorf("Expected detach priority 90, got %d", cfg.Priorities[ProcDetach])
	}
	if cfg.Priorities[ProcAttach] != DefaultPriorities()[ProcAttach] {
		t.Errorf("Expected the attach priority untouched, got %d", cfg.Priorities[ProcAttach])
	}
	if cfg.Enabled(ProcGUTIRealloc) {
		t.Error("Expected GUTI reallocation disabled")
	}
	if !cfg.Enabled(ProcAttach) {
		t.Error("Expected attach still enabled")
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{"timeout_threshold: 0\n", "timeout_threshold"},
		{"retransmit_window: -1\n", "retransmit_window"},
		{"handover_window: 0\n", "handover_window"},
		{"disabled:\n  - Paging\n", "unknown procedure"},
		{"priorities:\n  Bogus: 1\n", "unknown procedure"},
	}
	for _, tc := range cases {
		_, err := LoadConfig(writeConfig(t, tc.body))
		if err == nil {
			t.Errorf("Expected %q to be rejected", tc.body)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Expected error mentioning %q, got %v", tc.want, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

func TestConfigDump(t *testing.T) {
	out, err := DefaultConfig().Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	for _, want := range []string{"timeout_threshold: 5", "retransmit_window: 30", "t3450: 6"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected dump to contain %q, got:\n%s", want, out)
		}
	}
}

func TestLoadedThresholdDrivesEngine(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "timeout_threshold: 2\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	eng := NewEngine(cfg, nil)
	events := feedAll(t, eng,
		emm(1, nas.MsgTAURequest, nas.Uplink, 0, nil),
		emm(2, nas.MsgTAURequest, nas.Uplink, 5*time.Second, nil),
	)
	if len(events) != 0 {
		t.Fatalf("Expected no failure after one repeat, got %d", len(events))
	}
	events = feedAll(t, eng, emm(3, nas.MsgTAURequest, nas.Uplink, 10*time.Second, nil))
	if len(events) != 1 || events[0].Category != CatTimeout {
		t.Fatalf("Expected a TIMEOUT at the loaded threshold, got %+v", events)
	}
}
