package acr

import "encoding/json"

// marshalRecord serializes an RfRecord deterministically; encoding/json
// preserves struct field order, which is what makes GetMessage
// idempotent under repeated calls with unchanged state.
func marshalRecord(rec RfRecord) []byte {
	data, err := json.Marshal(rec)
	if err != nil {
		// RfRecord contains only JSON-safe primitives/slices/maps of
		// strings and ints; Marshal cannot fail for it.
		panic("acr: unexpected marshal failure: " + err.Error())
	}
	return data
}

// RfRecord is the JSON shape produced by ACR.GetMessage, matching the
// Rf Diameter AVP names used by Ralf's JSON-over-HTTP charging
// interface.
type RfRecord struct {
	Event               string                `json:"event"`
	RoleOfNode          string                `json:"role-of-node"`
	NodeFunctionality   string                `json:"node-functionality"`
	UserSessionID       string                `json:"user-session-id,omitempty"`
	CallingPartyAddress string                `json:"calling-party-address,omitempty"`
	CalledPartyAddress  string                `json:"called-party-address,omitempty"`
	RequestedPartyAddress string              `json:"requested-party-address,omitempty"`
	SubscriptionID      []SubscriptionID      `json:"subscription-id,omitempty"`
	ServiceInformation  *ServiceInformation   `json:"service-information,omitempty"`
	TimeStamps          *TimeStamps           `json:"time-stamps,omitempty"`
}

// SubscriptionID identifies the served subscriber for billing.
type SubscriptionID struct {
	Type string `json:"subscription-id-type"`
	Data string `json:"subscription-id-data"`
}

// ServiceInformation nests the IMS-specific charging block.
type ServiceInformation struct {
	IMSInformation *IMSInformation `json:"ims-information,omitempty"`
}

// IMSInformation is the ims-information nested block.
type IMSInformation struct {
	RoleOfNode                string                `json:"role-of-node"`
	NodeFunctionality         string                `json:"node-functionality"`
	EventType                 string                `json:"event-type,omitempty"`
	InterOperatorIdentifiers  []InterOperatorID     `json:"inter-operator-identifiers,omitempty"`
	SDPSessionDescription     []string              `json:"sdp-session-description,omitempty"`
	SDPMediaComponent         []SDPMediaComponent   `json:"sdp-media-component,omitempty"`
	ApplicationServersInfo    []ApplicationServerInfo `json:"application-servers-information,omitempty"`
	ServerCapabilities        *ServerCapabilitiesBlock `json:"server-capabilities,omitempty"`
	CauseCode                 *int                  `json:"cause-code,omitempty"`
	ReasonHeader              string                `json:"reason-header,omitempty"`
}

// InterOperatorID carries the orig/term IOI pair from P-Charging-Vector.
type InterOperatorID struct {
	OriginatingIOI string `json:"originating-ioi,omitempty"`
	TerminatingIOI string `json:"terminating-ioi,omitempty"`
}

// SDPMediaComponent is one m= line's worth of media description.
type SDPMediaComponent struct {
	SDPMediaName  string   `json:"sdp-media-name,omitempty"`
	SDPMediaDescription []string `json:"sdp-media-description,omitempty"`
}

// ApplicationServerInfo is one entry of the AS-invocation list.
type ApplicationServerInfo struct {
	ApplicationServer                    string      `json:"application-server"`
	ApplicationProvidedCalledPartyAddress string     `json:"application-provided-called-party-address,omitempty"`
	StatusAsCodeExt                      *int        `json:"status-as-code-ext,omitempty"`
	TimeStamps                           *TimeStamps `json:"time-stamps,omitempty"`
}

// ServerCapabilitiesBlock carries an I-CSCF UAR outcome.
type ServerCapabilitiesBlock struct {
	MandatoryCapabilities []int  `json:"mandatory-capabilities,omitempty"`
	OptionalCapabilities  []int  `json:"optional-capabilities,omitempty"`
	ServerName            string `json:"server-name,omitempty"`
}

// TimeStamps carries the Rf timing fields.
type TimeStamps struct {
	SIPRequestTimestamp  string `json:"sip-request-timestamp,omitempty"`
	SIPResponseTimestamp string `json:"sip-response-timestamp,omitempty"`
}
