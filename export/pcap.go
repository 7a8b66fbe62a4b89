package export

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/lteinsight/emmkpi/nas"
)

// GSMTAP framing per osmocom gsmtap.h. Each signaling message travels
// as a UDP datagram to port 4729 with a 16-byte GSMTAP v2 header, which
// is what Wireshark's GSMTAP dissector expects.
const (
	gsmtapVersion  = 2
	gsmtapHdrWords = 4 // header length in 32-bit words
	gsmtapUDPPort  = 4729

	gsmtapTypeLTERRC = 0x0d
	gsmtapTypeLTENAS = 0x12

	gsmtapNASPlain  = 0 // plain NAS PDU, no security header
	gsmtapRRCULCCCH = 3 // UL-CCCH, carries the reestablishment request
)

// PcapWriter writes signaling messages as GSMTAP frames to a pcapng file
type PcapWriter struct {
	file     *os.File
	writer   *pcapgo.NgWriter
	mu       sync.Mutex
	written  int
	skipped  int
	filename string
	closed   bool
}

// NewPcapWriter creates a new evidence pcap writer
func NewPcapWriter(filename string) (*PcapWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	// Create pcapng writer with interface options
	ngOptions := pcapgo.NgWriterOptions{
		SectionInfo: pcapgo.NgSectionInfo{
			Application: "emmkpi",
		},
	}

	writer, err := pcapgo.NewNgWriterInterface(file, pcapgo.NgInterface{
		Name:       "emmkpi",
		LinkType:   layers.LinkTypeEthernet,
		SnapLength: 65536,
	}, ngOptions)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
	}

	return &PcapWriter{
		file:     file,
		writer:   writer,
		filename: filename,
	}, nil
}

// WriteMessage writes a single message as a GSMTAP frame
func (w *PcapWriter) WriteMessage(msg *nas.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	payload := msg.Raw
	var gsmtapType, subType byte
	switch msg.Layer {
	case nas.LayerNASEMM:
		gsmtapType, subType = gsmtapTypeLTENAS, gsmtapNASPlain
		if len(payload) == 0 {
			payload = synthesizeNAS(msg)
		}
	case nas.LayerRRC:
		gsmtapType, subType = gsmtapTypeLTERRC, gsmtapRRCULCCCH
		if len(payload) == 0 {
			// RRC PDUs are ASN.1 PER encoded; nothing useful can be
			// rebuilt from the decoded summary.
			w.skipped++
			return nil
		}
	default:
		w.skipped++
		return nil
	}

	frame, err := gsmtapFrame(gsmtapType, subType, uint32(msg.Index), payload)
	if err != nil {
		return fmt.Errorf("failed to build frame for message %d: %w", msg.Index, err)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:      msg.Timestamp,
		CaptureLength:  len(frame),
		Length:         len(frame),
		InterfaceIndex: 0,
	}

	if err := w.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("failed to write message %d: %w", msg.Index, err)
	}

	w.written++
	return nil
}

// WriteMessages writes multiple messages to the file
func (w *PcapWriter) WriteMessages(msgs []*nas.Message) (int, error) {
	for _, msg := range msgs {
		if err := w.WriteMessage(msg); err != nil {
			return w.Written(), err
		}
	}
	return w.Written(), nil
}

// Flush flushes any buffered data to disk
func (w *PcapWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	return w.writer.Flush()
}

// Close closes the writer and the underlying file
func (w *PcapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	// Flush before closing
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Close()
}

// Written returns the number of frames written
func (w *PcapWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Skipped returns the number of messages without a writable payload
func (w *PcapWriter) Skipped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipped
}

// Filename returns the output filename
func (w *PcapWriter) Filename() string {
	return w.filename
}

// SaveMessages is a convenience function to save messages to a file
func SaveMessages(filename string, msgs []*nas.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, fmt.Errorf("no messages to save")
	}

	writer, err := NewPcapWriter(filename)
	if err != nil {
		return 0, err
	}
	defer writer.Close()

	return writer.WriteMessages(msgs)
}

// GenerateFilename generates a unique filename with timestamp
func GenerateFilename(prefix string) string {
	ts := time.Now().Format("20060102_150405")
	return fmt.Sprintf("%s_%s.pcapng", prefix, ts)
}

// synthesizeNAS rebuilds a minimal plain NAS PDU from the decoded
// summary: security header 0 with protocol discriminator 7, then the
// message type. A carried EMM cause lands in the third octet, where
// reject messages put it.
func synthesizeNAS(msg *nas.Message) []byte {
	pdu := []byte{0x07, byte(msg.Type)}
	if cause, ok := msg.EMMCause(); ok {
		pdu = append(pdu, byte(cause))
	}
	return pdu
}

// gsmtapFrame wraps a signaling payload in GSMTAP over UDP, IPv4 and
// Ethernet so the result is a self-contained capture frame.
func gsmtapFrame(gsmtapType, subType byte, frameNumber uint32, payload []byte) ([]byte, error) {
	hdr := make([]byte, 16)
	hdr[0] = gsmtapVersion
	hdr[1] = gsmtapHdrWords
	hdr[2] = gsmtapType
	binary.BigEndian.PutUint32(hdr[8:12], frameNumber)
	hdr[12] = subType

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DstIP:    net.IPv4(127, 0, 0, 1),
	}
	udp := &layers.UDP{
		SrcPort: gsmtapUDPPort,
		DstPort: gsmtapUDPPort,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(append(hdr, payload...))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
