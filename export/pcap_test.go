package export

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/lteinsight/emmkpi/nas"
)

func readFrames(t *testing.T, path string) [][]byte {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		t.Fatalf("Failed to read pcapng header: %v", err)
	}

	var frames [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		frame := make([]byte, len(data))
		copy(frame, data)
		frames = append(frames, frame)
	}
	return frames
}

func gsmtapPayload(t *testing.T, frame []byte) []byte {
	t.Helper()

	pkt := gopacket.NewPacket(frame, layers.LinkTypeEthernet, gopacket.Default)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		t.Fatalf("Expected UDP layer in frame")
	}
	udp := udpLayer.(*layers.UDP)
	if udp.DstPort != 4729 {
		t.Errorf("Expected GSMTAP port 4729, got %d", udp.DstPort)
	}
	return udp.Payload
}

func TestWriteMessageGSMTAPFraming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.pcapng")

	w, err := NewPcapWriter(path)
	if err != nil {
		t.Fatalf("NewPcapWriter failed: %v", err)
	}

	msg := &nas.Message{
		Index:     6,
		Layer:     nas.LayerNASEMM,
		Type:      nas.MsgAttachReject,
		Timestamp: time.Date(2025, 3, 10, 9, 0, 25, 0, time.UTC),
		Direction: nas.Downlink,
		Raw:       []byte{0x07, 0x44, 0x16},
	}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	frames := readFrames(t, path)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}

	payload := gsmtapPayload(t, frames[0])
	if len(payload) < 16+3 {
		t.Fatalf("Payload too short: %d bytes", len(payload))
	}
	if payload[0] != 2 {
		t.Errorf("Expected GSMTAP version 2, got %d", payload[0])
	}
	if payload[1] != 4 {
		t.Errorf("Expected header length 4 words, got %d", payload[1])
	}
	if payload[2] != 0x12 {
		t.Errorf("Expected LTE NAS type 0x12, got 0x%02x", payload[2])
	}
	if fn := binary.BigEndian.Uint32(payload[8:12]); fn != 6 {
		t.Errorf("Expected frame number 6, got %d", fn)
	}
	if payload[16] != 0x07 || payload[17] != 0x44 || payload[18] != 0x16 {
		t.Errorf("Unexpected NAS payload % x", payload[16:])
	}
}

func TestWriteMessageSynthesizesNAS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.pcapng")

	w, err := NewPcapWriter(path)
	if err != nil {
		t.Fatalf("NewPcapWriter failed: %v", err)
	}

	// No raw bytes in the decoded log; the writer rebuilds a plain PDU.
	msg := &nas.Message{
		Index:     3,
		Layer:     nas.LayerNASEMM,
		Type:      nas.MsgTAUReject,
		Timestamp: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Direction: nas.Downlink,
		IEs:       map[string]string{nas.IEEMMCause: "9 (UE identity cannot be derived by the network)"},
	}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	frames := readFrames(t, path)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}

	payload := gsmtapPayload(t, frames[0])
	nasPDU := payload[16:]
	if len(nasPDU) != 3 {
		t.Fatalf("Expected 3-byte synthesized PDU, got % x", nasPDU)
	}
	if nasPDU[0] != 0x07 {
		t.Errorf("Expected plain EMM header 0x07, got 0x%02x", nasPDU[0])
	}
	if nasPDU[1] != byte(nas.MsgTAUReject) {
		t.Errorf("Expected message type %d, got %d", nas.MsgTAUReject, nasPDU[1])
	}
	if nasPDU[2] != 9 {
		t.Errorf("Expected cause 9, got %d", nasPDU[2])
	}
}

func TestWriteMessageSkipsUndecodableRRC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.pcapng")

	w, err := NewPcapWriter(path)
	if err != nil {
		t.Fatalf("NewPcapWriter failed: %v", err)
	}
	defer w.Close()

	rrc := &nas.Message{
		Index:     1,
		Layer:     nas.LayerRRC,
		Timestamp: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	if err := w.WriteMessage(rrc); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	if w.Written() != 0 {
		t.Errorf("Expected 0 written, got %d", w.Written())
	}
	if w.Skipped() != 1 {
		t.Errorf("Expected 1 skipped, got %d", w.Skipped())
	}
}

func TestWriteMessageRRCWithPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.pcapng")

	w, err := NewPcapWriter(path)
	if err != nil {
		t.Fatalf("NewPcapWriter failed: %v", err)
	}

	rrc := &nas.Message{
		Index:     2,
		Layer:     nas.LayerRRC,
		Timestamp: time.Date(2025, 3, 10, 9, 0, 1, 0, time.UTC),
		Raw:       []byte{0x40, 0x21, 0x5a},
	}
	if err := w.WriteMessage(rrc); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	frames := readFrames(t, path)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}

	payload := gsmtapPayload(t, frames[0])
	if payload[2] != 0x0d {
		t.Errorf("Expected LTE RRC type 0x0d, got 0x%02x", payload[2])
	}
	if payload[12] != 3 {
		t.Errorf("Expected UL-CCCH subtype 3, got %d", payload[12])
	}
}

func TestSaveMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.pcapng")

	msgs := []*nas.Message{
		{
			Index:     1,
			Layer:     nas.LayerNASEMM,
			Type:      nas.MsgAuthRequest,
			Timestamp: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			Direction: nas.Downlink,
		},
		{
			Index:     2,
			Layer:     nas.LayerNASEMM,
			Type:      nas.MsgAuthFailure,
			Timestamp: time.Date(2025, 3, 10, 9, 0, 5, 0, time.UTC),
			Direction: nas.Uplink,
		},
	}

	written, err := SaveMessages(path, msgs)
	if err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}
	if written != 2 {
		t.Errorf("Expected 2 written, got %d", written)
	}

	if _, err := SaveMessages(filepath.Join(t.TempDir(), "empty.pcapng"), nil); err == nil {
		t.Error("Expected error for empty message list")
	}
}
