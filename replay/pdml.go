package replay

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// PDML element model. tshark nests fields arbitrarily deep; the reader
// flattens each protocol subtree into the IE map.
type pdmlPacket struct {
	Protos []pdmlProto `xml:"proto"`
}

type pdmlProto struct {
	Name   string      `xml:"name,attr"`
	Fields []pdmlField `xml:"field"`
}

type pdmlField struct {
	Name     string      `xml:"name,attr"`
	Show     string      `xml:"show,attr"`
	Showname string      `xml:"showname,attr"`
	Value    string      `xml:"value,attr"`
	Fields   []pdmlField `xml:"field"`
}

// uplinkTypes marks the EMM message types the device originates. Detach
// Request and Detach Accept flow both ways and are resolved per packet.
var uplinkTypes = map[nas.MsgType]bool{
	nas.MsgAttachRequest:        true,
	nas.MsgAttachComplete:       true,
	nas.MsgTAURequest:           true,
	nas.MsgTAUComplete:          true,
	nas.MsgExtServiceRequest:    true,
	nas.MsgGUTIReallocComplete:  true,
	nas.MsgAuthResponse:         true,
	nas.MsgAuthFailure:          true,
	nas.MsgIdentityResponse:     true,
	nas.MsgSecurityModeComplete: true,
	nas.MsgSecurityModeReject:   true,
	nas.MsgUplinkNASTransport:   true,
	nas.MsgServiceRequest:       true,
}

// LoadPDML reads a tshark PDML export ("tshark -T pdml").
func LoadPDML(path string) ([]*nas.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	msgs, err := ReadPDML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return msgs, nil
}

// ReadPDML extracts the NAS EMM and LTE RRC messages from a PDML document.
// Packets without either protocol contribute nothing; a packet carrying
// multiple NAS protos (piggybacked messages) contributes one message each.
func ReadPDML(r io.Reader) ([]*nas.Message, error) {
	dec := xml.NewDecoder(r)
	var msgs []*nas.Message
	packet := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse pdml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "packet" {
			continue
		}
		packet++
		var pkt pdmlPacket
		if err := dec.DecodeElement(&pkt, &se); err != nil {
			return nil, fmt.Errorf("packet %d: %w", packet, err)
		}
		out, err := pkt.messages(len(msgs) + 1)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", packet, err)
		}
		msgs = append(msgs, out...)
	}
	return msgs, nil
}

// messages converts one packet's NAS/RRC protos, numbering from index.
func (p *pdmlPacket) messages(index int) ([]*nas.Message, error) {
	ts, err := p.timestamp()
	if err != nil {
		return nil, err
	}
	var msgs []*nas.Message
	for _, proto := range p.Protos {
		switch proto.Name {
		case "nas-eps":
			ies := make(map[string]string)
			flatten(proto.Fields, ies)
			code, ok := ies[nas.IEMsgType]
			if !ok || code == "" {
				continue
			}
			mt, err := parseTypeCode(code)
			if err != nil {
				return nil, fmt.Errorf("message type %q: %w", code, err)
			}
			msgs = append(msgs, &nas.Message{
				Index:     index,
				Layer:     nas.LayerNASEMM,
				Type:      mt,
				Timestamp: ts,
				Direction: direction(mt, ies),
				IEs:       ies,
			})
			index++
		case "lte-rrc", "lte_rrc":
			ies := make(map[string]string)
			flatten(proto.Fields, ies)
			if _, ok := ies[nas.IEReestablishmnt]; !ok {
				continue
			}
			msgs = append(msgs, &nas.Message{
				Index:     index,
				Layer:     nas.LayerRRC,
				Timestamp: ts,
				Direction: nas.Uplink,
				IEs:       ies,
			})
			index++
		}
	}
	return msgs, nil
}

// timestamp pulls the capture time from the geninfo or frame proto,
// encoded as epoch seconds with a fractional part.
func (p *pdmlPacket) timestamp() (time.Time, error) {
	for _, proto := range p.Protos {
		if proto.Name != "geninfo" && proto.Name != "frame" {
			continue
		}
		for _, f := range proto.Fields {
			if f.Name != "timestamp" && f.Name != "frame.time_epoch" {
				continue
			}
			v := f.Value
			if v == "" {
				v = f.Show
			}
			ts, err := parseEpoch(v)
			if err != nil {
				return time.Time{}, fmt.Errorf("timestamp %q: %w", v, err)
			}
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("no capture timestamp")
}

func parseEpoch(v string) (time.Time, error) {
	sec := v
	frac := ""
	if i := strings.IndexByte(v, '.'); i >= 0 {
		sec, frac = v[:i], v[i+1:]
	}
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var ns int64
	if frac != "" {
		// Right-pad to nanoseconds: "123" means 123 ms.
		if len(frac) > 9 {
			frac = frac[:9]
		}
		n, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		ns = n
	}
	return time.Unix(s, ns).UTC(), nil
}

// flatten walks a field subtree recording one display value per field
// name. When a name repeats (the security header wrapping a plain
// message), the inner occurrence wins.
func flatten(fields []pdmlField, out map[string]string) {
	for _, f := range fields {
		if f.Name != "" {
			out[f.Name] = fieldDisplay(f)
		}
		flatten(f.Fields, out)
	}
}

// fieldDisplay rebuilds the decoder's display convention from the PDML
// attributes: the show value first, the showname's label in parentheses.
// "show=21, showname=EMM cause: Synch failure (21)" comes out as
// "21 (Synch failure)".
func fieldDisplay(f pdmlField) string {
	show := f.Show
	label := f.Showname
	if i := strings.Index(label, ": "); i >= 0 {
		label = label[i+2:]
	}
	label = strings.TrimSuffix(label, " ("+show+")")
	label = strings.TrimSpace(label)
	if label == "" || label == show {
		return show
	}
	if show == "" {
		return label
	}
	return show + " (" + label + ")"
}

// parseTypeCode reads the message type display value, decimal or 0x hex.
func parseTypeCode(v string) (nas.MsgType, error) {
	n, err := strconv.ParseInt(strings.Fields(v)[0], 0, 32)
	if err != nil {
		return 0, err
	}
	return nas.MsgType(n), nil
}

// direction derives the transfer direction from the message type. The
// two detach messages flow either way; the detach type IE names the
// originator, and the analyzers treat an accept the same from both sides.
func direction(mt nas.MsgType, ies map[string]string) nas.Direction {
	switch mt {
	case nas.MsgDetachRequest, nas.MsgDetachAccept:
		if _, ok := ies[nas.IEDetachTypeUL]; ok {
			return nas.Uplink
		}
		return nas.Downlink
	}
	if uplinkTypes[mt] {
		return nas.Uplink
	}
	return nas.Downlink
}
