// Package acr builds Rf Accounting Records (ACRs) from the SIP
// messages and AS-invocation outcomes a CSCF transaction observes, and
// emits them through a pluggable Sink (Ralf/HTTP in production).
package acr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	psdp "github.com/pion/sdp/v3"

	"github.com/sebas/cscf/internal/cscf/message"
)

// NodeRole identifies which CSCF role constructed the ACR.
type NodeRole int

const (
	ProxyCSCF NodeRole = iota
	InterrogatingCSCF
	ServingCSCF
)

func (n NodeRole) nodeFunctionality() string {
	switch n {
	case ProxyCSCF:
		return "PCSCF"
	case InterrogatingCSCF:
		return "ICSCF"
	case ServingCSCF:
		return "SCSCF"
	default:
		return ""
	}
}

// Direction is the node-role-of-node dimension: which leg of the call
// this ACR instance is reporting for.
type Direction int

const (
	Originating Direction = iota
	Terminating
)

func (d Direction) roleOfNode() string {
	if d == Terminating {
		return "terminating"
	}
	return "originating"
}

// InitiatorParty identifies which party the served subscriber is.
type InitiatorParty int

const (
	CallingParty InitiatorParty = iota
	CalledParty
)

// ServerCapabilities is the result of an I-CSCF UAR exchange.
type ServerCapabilities struct {
	SCSCF      string
	Mandatory  []int
	Optional   []int
}

// ChargingInfo is the served subscriber's charging parameters fixed by
// the trigger request.
type ChargingInfo struct {
	ICID   string
	OrigIOI string
	TermIOI string
	CCFs    []string
	ECFs    []string
}

// asInvocation is one application-servers-information entry.
type asInvocation struct {
	asURI       string
	redirectURI string
	statusCode  int
	timeout     bool
}

// mediaComponent is one sdp-media-component entry.
type mediaComponent struct {
	name  string
	lines []string
}

// ACR absorbs observed SIP messages plus AS-invocation outcomes and
// emits a single accounting record at session boundaries.
type ACR interface {
	RxRequest(msg message.Message, ts time.Time)
	TxRequest(msg message.Message, ts time.Time)
	RxResponse(msg message.Message, ts time.Time)
	TxResponse(msg message.Message, ts time.Time)
	AsInfo(asURI, redirectURIOrEmpty string, statusCode int, timeoutFlag bool)
	ServerCapabilities(caps ServerCapabilities)
	OverrideSessionID(callID string)
	GetMessage(ts time.Time) []byte
	SendMessage()
}

// ralfACR is the concrete ACR implementation, named after Clearwater's
// Ralf Rf-translation service.
type ralfACR struct {
	mu sync.Mutex

	nodeRole       NodeRole
	direction      Direction
	initiator      InitiatorParty
	sink           Sink

	triggerSeen    bool
	triggerMethod  string
	lastMethod     string
	sessionID      string

	charging       ChargingInfo
	chargingSet    bool

	initialRURI    string
	finalRURI      string
	fromAddress    string
	toAddress      string
	requestedParty string

	media          []mediaComponent

	lastStatusCode int
	firstProvisionalAt *time.Time
	finalResponseAt    *time.Time
	requestSentAt      *time.Time
	responseRecvAt     *time.Time

	asInvocations []asInvocation
	serverCaps    *ServerCapabilities

	startEmitted bool
}

var _ ACR = (*ralfACR)(nil)

// newRalfACR is invoked only by the Factory.
func newRalfACR(nodeRole NodeRole, direction Direction, initiator InitiatorParty, sink Sink) *ralfACR {
	return &ralfACR{
		nodeRole:  nodeRole,
		direction: direction,
		initiator: initiator,
		sink:      sink,
	}
}

func (a *ralfACR) absorbRequest(msg message.Message, ts time.Time, isTx bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.triggerSeen {
		a.triggerSeen = true
		a.triggerMethod = msg.Method()
		a.sessionID = msg.CallID()
		a.initialRURI = msg.RequestURI()
		a.extractCharging(msg)
		a.extractPartyAddresses(msg)
		if a.triggerMethod == "INVITE" {
			a.extractMedia(msg)
		}
	}
	a.lastMethod = msg.Method()
	// Subsequent-hop variants of an initial request update the final
	// forwarded RURI without overwriting the initial received one.
	a.finalRURI = msg.RequestURI()

	t := ts
	if isTx {
		a.requestSentAt = &t
	}
}

func (a *ralfACR) RxRequest(msg message.Message, ts time.Time) { a.absorbRequest(msg, ts, false) }
func (a *ralfACR) TxRequest(msg message.Message, ts time.Time) { a.absorbRequest(msg, ts, true) }

func (a *ralfACR) absorbResponse(msg message.Message, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	code := msg.StatusCode()
	a.lastStatusCode = code
	t := ts
	a.responseRecvAt = &t

	if code == 100 && a.firstProvisionalAt == nil {
		a.firstProvisionalAt = &t
	}
	if code >= 200 && a.finalResponseAt == nil {
		a.finalResponseAt = &t
	}
}

func (a *ralfACR) RxResponse(msg message.Message, ts time.Time) { a.absorbResponse(msg, ts) }
func (a *ralfACR) TxResponse(msg message.Message, ts time.Time) { a.absorbResponse(msg, ts) }

func (a *ralfACR) AsInfo(asURI, redirectURIOrEmpty string, statusCode int, timeoutFlag bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asInvocations = append(a.asInvocations, asInvocation{
		asURI:       asURI,
		redirectURI: redirectURIOrEmpty,
		statusCode:  statusCode,
		timeout:     timeoutFlag,
	})
}

func (a *ralfACR) ServerCapabilities(caps ServerCapabilities) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.serverCaps = &caps
}

func (a *ralfACR) OverrideSessionID(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = callID
}

// recordKind decides the Rf "event" value without mutating any state,
// so repeated GetMessage calls stay idempotent. The phase only
// advances (startEmitted flips to true) inside SendMessage.
func (a *ralfACR) recordKind() string {
	switch {
	case a.triggerMethod == "" :
		return "EVENT"
	case a.triggerMethod != "INVITE":
		return a.triggerMethod
	case a.lastMethod == "BYE":
		return "STOP"
	case !a.startEmitted:
		return "START"
	default:
		return "INTERIM"
	}
}

func formatTS(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (a *ralfACR) buildRecord() RfRecord {
	rec := RfRecord{
		Event:                  a.recordKind(),
		RoleOfNode:             a.direction.roleOfNode(),
		NodeFunctionality:      a.nodeRole.nodeFunctionality(),
		UserSessionID:          a.sessionID,
		CallingPartyAddress:    a.fromAddress,
		CalledPartyAddress:     a.toAddress,
		RequestedPartyAddress:  a.requestedParty,
	}

	ims := &IMSInformation{
		RoleOfNode:        a.direction.roleOfNode(),
		NodeFunctionality:  a.nodeRole.nodeFunctionality(),
		EventType:         a.triggerMethod,
	}

	if a.chargingSet && (a.charging.OrigIOI != "" || a.charging.TermIOI != "") {
		ims.InterOperatorIdentifiers = []InterOperatorID{{
			OriginatingIOI: a.charging.OrigIOI,
			TerminatingIOI: a.charging.TermIOI,
		}}
	}

	for _, m := range a.media {
		ims.SDPMediaComponent = append(ims.SDPMediaComponent, SDPMediaComponent{
			SDPMediaName:        m.name,
			SDPMediaDescription: m.lines,
		})
	}

	for _, inv := range a.asInvocations {
		entry := ApplicationServerInfo{
			ApplicationServer: inv.asURI,
			ApplicationProvidedCalledPartyAddress: inv.redirectURI,
		}
		if !inv.timeout {
			code := inv.statusCode
			entry.StatusAsCodeExt = &code
		}
		ims.ApplicationServersInfo = append(ims.ApplicationServersInfo, entry)
	}

	if a.serverCaps != nil {
		ims.ServerCapabilities = &ServerCapabilitiesBlock{
			MandatoryCapabilities: a.serverCaps.Mandatory,
			OptionalCapabilities:  a.serverCaps.Optional,
			ServerName:            a.serverCaps.SCSCF,
		}
	}

	rec.ServiceInformation = &ServiceInformation{IMSInformation: ims}

	ts := &TimeStamps{
		SIPRequestTimestamp:  formatTS(a.requestSentAt),
		SIPResponseTimestamp: formatTS(a.responseRecvAt),
	}
	if ts.SIPRequestTimestamp != "" || ts.SIPResponseTimestamp != "" {
		rec.TimeStamps = ts
	}

	if a.chargingSet && a.charging.ICID != "" {
		rec.SubscriptionID = []SubscriptionID{{Type: "ICID", Data: a.charging.ICID}}
	}

	return rec
}

func (a *ralfACR) GetMessage(ts time.Time) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return marshalRecord(a.buildRecord())
}

func (a *ralfACR) SendMessage() {
	a.mu.Lock()
	kind := a.recordKind()
	body := marshalRecord(a.buildRecord())
	if kind == "START" {
		a.startEmitted = true
	}
	sink := a.sink
	a.mu.Unlock()

	if sink == nil {
		return
	}
	sink.SendRecord(body)
}

func (a *ralfACR) extractCharging(msg message.Message) {
	a.chargingSet = true
	if pcv, ok := msg.Header("P-Charging-Vector"); ok {
		a.charging = parsePChargingVector(pcv)
	}
	if pcfa, ok := msg.Header("P-Charging-Function-Addresses"); ok {
		ccfs, ecfs := parsePChargingFunctionAddresses(pcfa)
		a.charging.CCFs = ccfs
		a.charging.ECFs = ecfs
	}
}

func (a *ralfACR) extractPartyAddresses(msg message.Message) {
	if from, ok := msg.Header("From"); ok {
		a.fromAddress = message.CanonicalURI(from)
	}
	if to, ok := msg.Header("To"); ok {
		a.toAddress = message.CanonicalURI(to)
	}
	a.requestedParty = message.CanonicalURI(msg.RequestURI())
}

// extractMedia parses the INVITE's SDP body so the ACR's
// sdp-media-component entries carry the negotiated media lines rather
// than a re-serialization of the raw offer.
func (a *ralfACR) extractMedia(msg message.Message) {
	body := msg.Body()
	if len(body) == 0 {
		return
	}

	var sdpObj psdp.SessionDescription
	if err := sdpObj.Unmarshal(body); err != nil {
		return
	}

	for _, md := range sdpObj.MediaDescriptions {
		name := md.MediaName.Media
		mc := mediaComponent{name: name}
		mc.lines = append(mc.lines, formatMediaLine(md.MediaName))
		for _, attr := range md.Attributes {
			if attr.Value == "" {
				mc.lines = append(mc.lines, "a="+attr.Key)
			} else {
				mc.lines = append(mc.lines, "a="+attr.Key+":"+attr.Value)
			}
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			mc.lines = append(mc.lines, "c=IN "+md.ConnectionInformation.AddressType+" "+md.ConnectionInformation.Address.Address)
		}
		a.media = append(a.media, mc)
	}
}

func formatMediaLine(mn psdp.MediaName) string {
	return fmt.Sprintf("m=%s %d %s %s", mn.Media, mn.Port.Value, strings.Join(mn.Protos, "/"), strings.Join(mn.Formats, " "))
}

// parsePChargingVector parses
// "icid-value=X;icid-generated-at=Y;orig-ioi=Z;term-ioi=W" into a
// ChargingInfo, ignoring unrecognised parameters.
func parsePChargingVector(raw string) ChargingInfo {
	var ci ChargingInfo
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "icid-value":
			ci.ICID = v
		case "orig-ioi":
			ci.OrigIOI = v
		case "term-ioi":
			ci.TermIOI = v
		}
	}
	return ci
}

// parsePChargingFunctionAddresses parses "ccf=A;ccf=B;ecf=C;ecf=D".
func parsePChargingFunctionAddresses(raw string) (ccfs, ecfs []string) {
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "ccf":
			ccfs = append(ccfs, v)
		case "ecf":
			ecfs = append(ecfs, v)
		}
	}
	return ccfs, ecfs
}
