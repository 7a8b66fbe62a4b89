// Package nas defines the decoded EPS NAS signaling message model consumed
// by the diagnosis engine. Messages arrive from an external decoder (tshark
// PDML export or a JSONL dump) and are never mutated after construction.
package nas

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Layer identifies the protocol layer a message was decoded from
type Layer string

const (
	LayerNASEMM Layer = "nas-emm" // EPS Mobility Management (TS 24.301)
	LayerRRC    Layer = "rrc"     // LTE RRC (TS 36.331)
)

// Direction is the transfer direction relative to the device
type Direction string

const (
	Uplink   Direction = "uplink"   // device to network
	Downlink Direction = "downlink" // network to device
)

// Message is a single decoded signaling message. IEs maps decoded field
// names (Wireshark naming, e.g. "nas_eps.emm.cause") to their display
// values. Raw optionally carries the undecoded PDU for evidence export.
// Index is the position in the replayed stream, assigned by the reader.
type Message struct {
	Index     int               `json:"index,omitempty"`
	Layer     Layer             `json:"layer"`
	Type      MsgType           `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Direction Direction         `json:"direction"`
	IEs       map[string]string `json:"ies,omitempty"`
	Raw       []byte            `json:"raw,omitempty"`
}

// Well-known information element names as produced by the decoder.
const (
	IEEMMCause       = "nas_eps.emm.cause"
	IEMsgType        = "nas_eps.nas_msg_emm_type"
	IEMobileIDType   = "gsm_a.ie.mobileid.type"
	IEReestablishmnt = "lte-rrc.reestablishmentCause"
	IEDetachTypeUL   = "nas_eps.emm.detach_type_ul"
	IEDetachTypeDL   = "nas_eps.emm.detach_type_dl"
	IEAttachType     = "nas_eps.emm.eps_att_type"
	IEESMContainer   = "nas_eps.emm.esm_msg_cont"
	IETypeOfID       = "nas_eps.emm.type_of_id"
	IEKeySetID       = "nas_eps.emm.nas_key_set_id"
	IEUEUsageSetting = "gsm_a.gm.gmm.ue_usage_setting"
	IESecurityHeader = "nas_eps.security_header_type"
	IEProtocolDisc   = "gsm_a.L3_protocol_discriminator"
	IEMobileIdentity = "EPS mobile identity"
	IENetworkCap     = "UE network capability"
	IEDRXParameter   = "DRX parameter"
)

// IE returns the display value of the named information element.
func (m *Message) IE(name string) (string, bool) {
	v, ok := m.IEs[name]
	return v, ok
}

// HasIE reports whether the named information element is present.
func (m *Message) HasIE(name string) bool {
	_, ok := m.IEs[name]
	return ok
}

// EMMCause returns the EMM cause value carried by the message, if any.
// The decoder emits the cause as a decimal string, optionally followed
// by display text ("22 (Congestion)").
func (m *Message) EMMCause() (Cause, bool) {
	v, ok := m.IEs[IEEMMCause]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.Fields(v)[0])
	if err != nil {
		return 0, false
	}
	return Cause(n), true
}

// DetachType returns the display value of the detach type IE for a
// Detach Request, searching both direction-specific field names.
func (m *Message) DetachType() string {
	if v, ok := m.IEs[IEDetachTypeUL]; ok {
		return v
	}
	if v, ok := m.IEs[IEDetachTypeDL]; ok {
		return v
	}
	// Some decoders collapse the type into a generic field; fall back to
	// any value mentioning re-attach or IMSI detach.
	for _, v := range m.IEs {
		lower := strings.ToLower(v)
		if strings.Contains(lower, "re-attach") || strings.Contains(lower, "imsi detach") {
			return v
		}
	}
	return ""
}

// SwitchOff reports whether the detach type indicates a power-off detach.
func (m *Message) SwitchOff() bool {
	for _, v := range m.IEs {
		if strings.Contains(v, "Switch off") {
			return true
		}
	}
	return false
}

// MobileIdentity returns the display value of the mobile identity type IE
// (Identity Response content).
func (m *Message) MobileIdentity() string {
	return m.IEs[IEMobileIDType]
}

// ReestablishmentCause returns the RRC connection reestablishment cause
// display value, empty for non-RRC messages.
func (m *Message) ReestablishmentCause() string {
	return m.IEs[IEReestablishmnt]
}

// HasBackoffTimer reports whether the message carries a T3346 backoff
// timer value (congestion control).
func (m *Message) HasBackoffTimer() bool {
	for k, v := range m.IEs {
		if strings.Contains(k, "t3346") || strings.Contains(v, "T3346") {
			return true
		}
	}
	return false
}

// Fingerprint digests the listed information elements into a stable
// identity for same-kind request comparison. Absent elements are skipped
// so two messages match only when they agree on presence and value.
func (m *Message) Fingerprint(names []string) string {
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := m.IEs[name]; ok {
			pairs = append(pairs, name+"="+v)
		}
	}
	sort.Strings(pairs)
	h := md5.Sum([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(h[:])
}

// String returns a one-line rendering for logs and evidence detail.
func (m *Message) String() string {
	if m.Layer == LayerRRC {
		return fmt.Sprintf("%s RRC %s", m.Timestamp.Format(time.RFC3339), m.ReestablishmentCause())
	}
	return fmt.Sprintf("%s %s %s", m.Timestamp.Format(time.RFC3339), m.Direction, m.Type)
}
