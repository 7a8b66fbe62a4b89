package nas

import "fmt"

// MsgType is the EMM message type octet (TS 24.301 Table 9.8.1), carried
// by the decoder as a decimal value. ServiceRequest has no type octet on
// the wire; decoders report it under the reserved pseudo-value 255.
type MsgType int

const (
	MsgAttachRequest        MsgType = 65
	MsgAttachAccept         MsgType = 66
	MsgAttachComplete       MsgType = 67
	MsgAttachReject         MsgType = 68
	MsgDetachRequest        MsgType = 69
	MsgDetachAccept         MsgType = 70
	MsgTAURequest           MsgType = 72
	MsgTAUAccept            MsgType = 73
	MsgTAUComplete          MsgType = 74
	MsgTAUReject            MsgType = 75
	MsgExtServiceRequest    MsgType = 76
	MsgServiceReject        MsgType = 78
	MsgServiceAccept        MsgType = 79
	MsgGUTIReallocCommand   MsgType = 80
	MsgGUTIReallocComplete  MsgType = 81
	MsgAuthRequest          MsgType = 82
	MsgAuthResponse         MsgType = 83
	MsgAuthReject           MsgType = 84
	MsgIdentityRequest      MsgType = 85
	MsgIdentityResponse     MsgType = 86
	MsgAuthFailure          MsgType = 92
	MsgSecurityModeCommand  MsgType = 93
	MsgSecurityModeComplete MsgType = 94
	MsgSecurityModeReject   MsgType = 95
	MsgEMMStatus            MsgType = 96
	MsgEMMInformation       MsgType = 97
	MsgDownlinkNASTransport MsgType = 98
	MsgUplinkNASTransport   MsgType = 99
	MsgCSServiceNotif       MsgType = 100
	MsgServiceRequest       MsgType = 255
)

var msgTypeNames = map[MsgType]string{
	MsgAttachRequest:        "Attach Request",
	MsgAttachAccept:         "Attach Accept",
	MsgAttachComplete:       "Attach Complete",
	MsgAttachReject:         "Attach Reject",
	MsgDetachRequest:        "Detach Request",
	MsgDetachAccept:         "Detach Accept",
	MsgTAURequest:           "Tracking Area Update Request",
	MsgTAUAccept:            "Tracking Area Update Accept",
	MsgTAUComplete:          "Tracking Area Update Complete",
	MsgTAUReject:            "Tracking Area Update Reject",
	MsgExtServiceRequest:    "Extended Service Request",
	MsgServiceReject:        "Service Reject",
	MsgServiceAccept:        "Service Accept",
	MsgGUTIReallocCommand:   "GUTI Reallocation Command",
	MsgGUTIReallocComplete:  "GUTI Reallocation Complete",
	MsgAuthRequest:          "Authentication Request",
	MsgAuthResponse:         "Authentication Response",
	MsgAuthReject:           "Authentication Reject",
	MsgIdentityRequest:      "Identity Request",
	MsgIdentityResponse:     "Identity Response",
	MsgAuthFailure:          "Authentication Failure",
	MsgSecurityModeCommand:  "Security Mode Command",
	MsgSecurityModeComplete: "Security Mode Complete",
	MsgSecurityModeReject:   "Security Mode Reject",
	MsgEMMStatus:            "EMM Status",
	MsgEMMInformation:       "EMM Information",
	MsgDownlinkNASTransport: "Downlink NAS Transport",
	MsgUplinkNASTransport:   "Uplink NAS Transport",
	MsgCSServiceNotif:       "CS Service Notification",
	MsgServiceRequest:       "Service Request",
}

// String returns the TS 24.301 message name.
func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EMM message 0x%02x", int(t))
}

// Known reports whether the type maps to a message the engine understands.
func (t MsgType) Known() bool {
	_, ok := msgTypeNames[t]
	return ok
}

// Cause is an EMM cause value (TS 24.301 Table 9.9.3.9.1).
type Cause int

const (
	CauseIMSIUnknownInHSS       Cause = 2
	CauseIllegalUE              Cause = 3
	CauseIMEINotAccepted        Cause = 5
	CauseIllegalME              Cause = 6
	CauseEPSNotAllowed          Cause = 7
	CauseEPSNonEPSNotAllowed    Cause = 8
	CauseUEIDNotDerived         Cause = 9
	CauseImplicitlyDetached     Cause = 10
	CausePLMNNotAllowed         Cause = 11
	CauseTANotAllowed           Cause = 12
	CauseRoamingNotAllowed      Cause = 13
	CauseEPSNotAllowedInPLMN    Cause = 14
	CauseNoSuitableCells        Cause = 15
	CauseMSCNotReachable        Cause = 16
	CauseNetworkFailure         Cause = 17
	CauseCSDomainNotAvailable   Cause = 18
	CauseESMFailure             Cause = 19
	CauseMACFailure             Cause = 20
	CauseSynchFailure           Cause = 21
	CauseCongestion             Cause = 22
	CauseSecurityMismatch       Cause = 23
	CauseSecurityModeRejected   Cause = 24
	CauseNotAuthorizedCSG       Cause = 25
	CauseNonEPSAuthUnacceptable Cause = 26
	CauseServiceNotAuthorized   Cause = 35
	CauseCSServiceNotAvailable  Cause = 39
	CauseNoEPSBearerActivated   Cause = 40
	CauseSevereNetworkFailure   Cause = 42
	CauseSemanticallyIncorrect  Cause = 95
	CauseInvalidMandatoryInfo   Cause = 96
	CauseMsgTypeNotImplemented  Cause = 97
	CauseMsgTypeNotCompatible   Cause = 98
	CauseIENotImplemented       Cause = 99
	CauseConditionalIEError     Cause = 100
	CauseMsgNotCompatible       Cause = 101
	CauseProtocolError          Cause = 111
)

var causeNames = map[Cause]string{
	CauseIMSIUnknownInHSS:       "IMSI unknown in HSS",
	CauseIllegalUE:              "Illegal UE",
	CauseIMEINotAccepted:        "IMEI not accepted",
	CauseIllegalME:              "Illegal ME",
	CauseEPSNotAllowed:          "EPS services not allowed",
	CauseEPSNonEPSNotAllowed:    "EPS services and non-EPS services not allowed",
	CauseUEIDNotDerived:         "UE identity cannot be derived by the network",
	CauseImplicitlyDetached:     "Implicitly detached",
	CausePLMNNotAllowed:         "PLMN not allowed",
	CauseTANotAllowed:           "Tracking Area not allowed",
	CauseRoamingNotAllowed:      "Roaming not allowed in this tracking area",
	CauseEPSNotAllowedInPLMN:    "EPS services not allowed in this PLMN",
	CauseNoSuitableCells:        "No Suitable Cells In tracking area",
	CauseMSCNotReachable:        "MSC temporarily not reachable",
	CauseNetworkFailure:         "Network failure",
	CauseCSDomainNotAvailable:   "CS domain not available",
	CauseESMFailure:             "ESM failure",
	CauseMACFailure:             "MAC failure",
	CauseSynchFailure:           "Synch failure",
	CauseCongestion:             "Congestion",
	CauseSecurityMismatch:       "UE security capabilities mismatch",
	CauseSecurityModeRejected:   "Security mode rejected, unspecified",
	CauseNotAuthorizedCSG:       "Not authorized for this CSG",
	CauseNonEPSAuthUnacceptable: "Non-EPS authentication unacceptable",
	CauseServiceNotAuthorized:   "Requested service option not authorized in this PLMN",
	CauseCSServiceNotAvailable:  "CS service temporarily not available",
	CauseNoEPSBearerActivated:   "No EPS bearer context activated",
	CauseSevereNetworkFailure:   "Severe network failure",
	CauseSemanticallyIncorrect:  "Semantically incorrect message",
	CauseInvalidMandatoryInfo:   "Invalid mandatory information",
	CauseMsgTypeNotImplemented:  "Message type non-existent or not implemented",
	CauseMsgTypeNotCompatible:   "Message type not compatible with the protocol state",
	CauseIENotImplemented:       "Information element non-existent or not implemented",
	CauseConditionalIEError:     "Conditional IE error",
	CauseMsgNotCompatible:       "Message not compatible with the protocol state",
	CauseProtocolError:          "Protocol error, unspecified",
}

// String returns the TS 24.301 cause name.
func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("EMM cause %d", int(c))
}

// Known reports whether the cause appears in Table 9.9.3.9.1.
func (c Cause) Known() bool {
	_, ok := causeNames[c]
	return ok
}

// ProtocolError reports whether the cause denotes a protocol-level error
// rather than a mobility management rejection.
func (c Cause) ProtocolError() bool {
	switch c {
	case CauseInvalidMandatoryInfo, CauseIENotImplemented, CauseConditionalIEError, CauseProtocolError:
		return true
	}
	return false
}
