package nas

import (
	"testing"
	"time"
)

func TestEMMCause(t *testing.T) {
	msg := &Message{
		Layer:     LayerNASEMM,
		Type:      MsgAttachReject,
		Timestamp: time.Now(),
		Direction: Downlink,
		IEs:       map[string]string{IEEMMCause: "22 (Congestion)"},
	}

	cause, ok := msg.EMMCause()
	if !ok {
		t.Fatal("Expected cause to be present")
	}
	if cause != CauseCongestion {
		t.Errorf("Expected cause 22, got %d", cause)
	}

	noCause := &Message{Type: MsgAttachAccept, IEs: map[string]string{}}
	if _, ok := noCause.EMMCause(); ok {
		t.Error("Expected no cause on Attach Accept")
	}
}

func TestDetachType(t *testing.T) {
	msg := &Message{
		Type:      MsgDetachRequest,
		Direction: Downlink,
		IEs: map[string]string{
			IEDetachTypeDL: "Detach Type = Re-attach required",
		},
	}
	if got := msg.DetachType(); got != "Detach Type = Re-attach required" {
		t.Errorf("Unexpected detach type %q", got)
	}

	switchOff := &Message{
		Type:      MsgDetachRequest,
		Direction: Uplink,
		IEs: map[string]string{
			IEDetachTypeUL: "Detach Type = EPS detach, Switch off",
		},
	}
	if !switchOff.SwitchOff() {
		t.Error("Expected switch off detach to be detected")
	}
	if msg.SwitchOff() {
		t.Error("Re-attach detach should not report switch off")
	}
}

func TestFingerprint(t *testing.T) {
	keys := []string{IEAttachType, IEMobileIdentity}

	a := &Message{IEs: map[string]string{
		IEAttachType:     "EPS attach",
		IEMobileIdentity: "GUTI 1234",
	}}
	b := &Message{IEs: map[string]string{
		IEAttachType:     "EPS attach",
		IEMobileIdentity: "GUTI 1234",
		"unrelated.ie":   "ignored",
	}}
	c := &Message{IEs: map[string]string{
		IEAttachType:     "Combined EPS/IMSI attach",
		IEMobileIdentity: "GUTI 1234",
	}}

	if a.Fingerprint(keys) != b.Fingerprint(keys) {
		t.Error("Fingerprint should ignore elements outside the key set")
	}
	if a.Fingerprint(keys) == c.Fingerprint(keys) {
		t.Error("Fingerprint should differ when a keyed element differs")
	}
}

func TestCauseClassification(t *testing.T) {
	protocolCauses := []Cause{CauseInvalidMandatoryInfo, CauseIENotImplemented, CauseConditionalIEError, CauseProtocolError}
	for _, c := range protocolCauses {
		if !c.ProtocolError() {
			t.Errorf("Cause %d should be a protocol error", c)
		}
	}
	for _, c := range []Cause{CauseIllegalUE, CauseCongestion, CauseMACFailure} {
		if c.ProtocolError() {
			t.Errorf("Cause %d should not be a protocol error", c)
		}
	}
	if CauseSynchFailure.String() != "Synch failure" {
		t.Errorf("Unexpected cause name %q", CauseSynchFailure.String())
	}
	if Cause(200).Known() {
		t.Error("Cause 200 should be unknown")
	}
}

func TestMsgTypeNames(t *testing.T) {
	if MsgAttachRequest.String() != "Attach Request" {
		t.Errorf("Unexpected name %q", MsgAttachRequest.String())
	}
	if MsgServiceRequest.String() != "Service Request" {
		t.Errorf("Unexpected name %q", MsgServiceRequest.String())
	}
	if MsgType(42).Known() {
		t.Error("Type 42 should be unknown")
	}
}

func TestHasBackoffTimer(t *testing.T) {
	with := &Message{IEs: map[string]string{
		"gsm_a.gm.gmm.t3346": "T3346 value - 10 min",
	}}
	if !with.HasBackoffTimer() {
		t.Error("Expected T3346 to be detected")
	}
	without := &Message{IEs: map[string]string{IEEMMCause: "22"}}
	if without.HasBackoffTimer() {
		t.Error("Did not expect T3346")
	}
}
