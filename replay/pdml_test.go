package replay

import (
	"strings"
	"testing"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

const samplePDML = `<?xml version="1.0" encoding="utf-8"?>
<pdml version="0" creator="wireshark/4.2.2">
<packet>
  <proto name="geninfo" pos="0" showname="General information" size="74">
    <field name="num" pos="0" show="1" showname="Number" value="1"/>
    <field name="timestamp" pos="0" show="Mar 10, 2025 09:00:00.000000000 UTC" showname="Captured Time" value="1741597200.000000000"/>
  </proto>
  <proto name="ip" pos="14" showname="Internet Protocol Version 4" size="20"/>
  <proto name="nas-eps" pos="62" showname="Non-Access-Stratum (NAS)PDU" size="12">
    <field name="nas_eps.security_header_type" pos="62" show="0" showname="Security header type: Plain NAS message, not security protected (0)"/>
    <field name="gsm_a.L3_protocol_discriminator" pos="62" show="7" showname="Protocol discriminator: EPS mobility management messages (0x7)"/>
    <field name="nas_eps.nas_msg_emm_type" pos="63" show="0x52" showname="NAS EPS Mobility Management Message Type: Authentication request (0x52)"/>
  </proto>
</packet>
<packet>
  <proto name="geninfo" pos="0" showname="General information" size="70">
    <field name="num" pos="0" show="2" showname="Number" value="2"/>
    <field name="timestamp" pos="0" show="Mar 10, 2025 09:00:06.500000000 UTC" showname="Captured Time" value="1741597206.500000000"/>
  </proto>
  <proto name="nas-eps" pos="62" showname="Non-Access-Stratum (NAS)PDU" size="10">
    <field name="nas_eps.nas_msg_emm_type" pos="63" show="0x5c" showname="NAS EPS Mobility Management Message Type: Authentication failure (0x5c)"/>
    <field name="nas_eps.emm.cause" pos="64" show="21" showname="EMM cause: Synch failure (21)"/>
  </proto>
</packet>
<packet>
  <proto name="geninfo" pos="0" showname="General information" size="40">
    <field name="num" pos="0" show="3" showname="Number" value="3"/>
    <field name="timestamp" pos="0" show="Mar 10, 2025 09:00:09.000000000 UTC" showname="Captured Time" value="1741597209.000000000"/>
  </proto>
  <proto name="lte-rrc" pos="42" showname="LTE Radio Resource Control (RRC) protocol" size="8">
    <field name="lte-rrc.rrcConnectionReestablishmentRequest_element" show="" showname="rrcConnectionReestablishmentRequest">
      <field name="lte-rrc.reestablishmentCause" pos="44" show="1" showname="reestablishmentCause: handoverFailure (1)"/>
    </field>
  </proto>
</packet>
<packet>
  <proto name="geninfo" pos="0" showname="General information" size="60">
    <field name="num" pos="0" show="4" showname="Number" value="4"/>
    <field name="timestamp" pos="0" show="Mar 10, 2025 09:00:10.000000000 UTC" showname="Captured Time" value="1741597210.000000000"/>
  </proto>
  <proto name="tcp" pos="34" showname="Transmission Control Protocol" size="20"/>
</packet>
<packet>
  <proto name="geninfo" pos="0" showname="General information" size="66">
    <field name="num" pos="0" show="5" showname="Number" value="5"/>
    <field name="timestamp" pos="0" show="Mar 10, 2025 09:00:12.000000000 UTC" showname="Captured Time" value="1741597212.000000000"/>
  </proto>
  <proto name="nas-eps" pos="62" showname="Non-Access-Stratum (NAS)PDU" size="10">
    <field name="nas_eps.nas_msg_emm_type" pos="63" show="0x45" showname="NAS EPS Mobility Management Message Type: Detach request (0x45)"/>
    <field name="nas_eps.emm.detach_type_dl" pos="64" show="1" showname="Detach Type: Re-attach required (1)"/>
  </proto>
</packet>
</pdml>
`

func TestReadPDML(t *testing.T) {
	msgs, err := ReadPDML(strings.NewReader(samplePDML))
	if err != nil {
		t.Fatalf("ReadPDML: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(msgs))
	}

	if msgs[0].Type != nas.MsgAuthRequest || msgs[0].Direction != nas.Downlink {
		t.Errorf("Expected a downlink authentication request, got %s %s", msgs[0].Direction, msgs[0].Type)
	}
	want := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !msgs[0].Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %s, got %s", want, msgs[0].Timestamp)
	}

	if msgs[1].Type != nas.MsgAuthFailure || msgs[1].Direction != nas.Uplink {
		t.Errorf("Expected an uplink authentication failure, got %s %s", msgs[1].Direction, msgs[1].Type)
	}
	if got := msgs[1].IEs[nas.IEEMMCause]; got != "21 (Synch failure)" {
		t.Errorf("Expected the rebuilt cause display, got %q", got)
	}
	if cause, ok := msgs[1].EMMCause(); !ok || cause != nas.CauseSynchFailure {
		t.Errorf("Expected cause 21, got %d", cause)
	}
	if msgs[1].Timestamp.Nanosecond() != 500000000 {
		t.Errorf("Expected the fractional part preserved, got %d", msgs[1].Timestamp.Nanosecond())
	}

	if msgs[2].Layer != nas.LayerRRC {
		t.Fatalf("Expected an RRC message third, got %s", msgs[2].Layer)
	}
	if got := msgs[2].ReestablishmentCause(); !strings.Contains(got, "handoverFailure") {
		t.Errorf("Expected the reestablishment cause mapped, got %q", got)
	}

	if msgs[3].Type != nas.MsgDetachRequest || msgs[3].Direction != nas.Downlink {
		t.Errorf("Expected a downlink detach request, got %s %s", msgs[3].Direction, msgs[3].Type)
	}
	if got := strings.ToLower(msgs[3].DetachType()); !strings.Contains(got, "re-attach required") {
		t.Errorf("Expected the detach type display, got %q", got)
	}

	for i, msg := range msgs {
		if msg.Index != i+1 {
			t.Errorf("Expected index %d, got %d", i+1, msg.Index)
		}
	}
}

func TestFieldDisplay(t *testing.T) {
	cases := []struct {
		field pdmlField
		want  string
	}{
		{pdmlField{Show: "21", Showname: "EMM cause: Synch failure (21)"}, "21 (Synch failure)"},
		{pdmlField{Show: "1", Showname: "reestablishmentCause: handoverFailure (1)"}, "1 (handoverFailure)"},
		{pdmlField{Show: "7", Showname: ""}, "7"},
		{pdmlField{Show: "", Showname: "rrcConnectionReestablishmentRequest"}, "rrcConnectionReestablishmentRequest"},
		{pdmlField{Show: "600", Showname: "GPRS Timer: T3346: 600 s"}, "600 (T3346: 600 s)"},
	}
	for _, tc := range cases {
		if got := fieldDisplay(tc.field); got != tc.want {
			t.Errorf("Expected %q, got %q", tc.want, got)
		}
	}
}

func TestReadPDMLMissingTimestamp(t *testing.T) {
	doc := `<pdml><packet><proto name="nas-eps">
<field name="nas_eps.nas_msg_emm_type" show="0x52" showname="Type: Authentication request (0x52)"/>
</proto></packet></pdml>`
	if _, err := ReadPDML(strings.NewReader(doc)); err == nil {
		t.Fatal("Expected an error for a packet without a timestamp")
	}
}
