package replay

import (
	"strings"
	"testing"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

func TestReadJSONL(t *testing.T) {
	input := `{"layer":"nas-emm","type":82,"timestamp":"2025-03-10T09:00:00Z","direction":"downlink"}

{"layer":"nas-emm","type":92,"timestamp":"2025-03-10T09:00:06Z","direction":"uplink","ies":{"nas_eps.emm.cause":"21 (Synch failure)"},"raw":"075c15"}
{"layer":"rrc","timestamp":"2025-03-10T09:00:09Z","ies":{"lte-rrc.reestablishmentCause":"handoverFailure (1)"}}
`
	msgs, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Type != nas.MsgAuthRequest || msgs[0].Direction != nas.Downlink {
		t.Errorf("Expected a downlink authentication request, got %s %s", msgs[0].Direction, msgs[0].Type)
	}
	if msgs[0].Index != 1 || msgs[1].Index != 2 || msgs[2].Index != 3 {
		t.Errorf("Expected indexes 1..3, got %d %d %d", msgs[0].Index, msgs[1].Index, msgs[2].Index)
	}
	if got, ok := msgs[1].EMMCause(); !ok || got != nas.CauseSynchFailure {
		t.Errorf("Expected cause 21, got %d", got)
	}
	if len(msgs[1].Raw) != 3 || msgs[1].Raw[0] != 0x07 {
		t.Errorf("Expected decoded raw bytes, got %x", msgs[1].Raw)
	}
	if msgs[2].Layer != nas.LayerRRC {
		t.Errorf("Expected an RRC message, got %s", msgs[2].Layer)
	}
	want := time.Date(2025, 3, 10, 9, 0, 6, 0, time.UTC)
	if !msgs[1].Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %s, got %s", want, msgs[1].Timestamp)
	}
}

func TestReadJSONLRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"truncated json", `{"layer":`},
		{"unknown layer", `{"layer":"s1ap","timestamp":"2025-03-10T09:00:00Z"}`},
		{"emm without direction", `{"layer":"nas-emm","type":82,"timestamp":"2025-03-10T09:00:00Z"}`},
		{"bad raw hex", `{"layer":"nas-emm","type":82,"timestamp":"2025-03-10T09:00:00Z","direction":"downlink","raw":"0x51"}`},
		{"unknown field", `{"layer":"nas-emm","type":82,"timestamp":"2025-03-10T09:00:00Z","direction":"downlink","frame":1}`},
		{"bad timestamp", `{"layer":"nas-emm","type":82,"timestamp":"yesterday","direction":"downlink"}`},
		{"type out of range", `{"layer":"nas-emm","type":300,"timestamp":"2025-03-10T09:00:00Z","direction":"downlink"}`},
	}
	for _, tc := range cases {
		if _, err := ReadJSONL(strings.NewReader(tc.line + "\n")); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}

func TestReadJSONLReportsLineNumber(t *testing.T) {
	input := `{"layer":"nas-emm","type":82,"timestamp":"2025-03-10T09:00:00Z","direction":"downlink"}
{"layer":"bogus","timestamp":"2025-03-10T09:00:01Z"}
`
	_, err := ReadJSONL(strings.NewReader(input))
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected the error to name line 2, got %v", err)
	}
}
