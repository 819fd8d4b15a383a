package aschain

import (
	"time"

	"github.com/sebas/cscf/internal/cscf/ifc"
	"github.com/sebas/cscf/internal/cscf/message"
)

// Disposition is the outcome of AsChainLink.OnInitialRequest.
type Disposition int

const (
	// Complete means no further ASs remain; the proxy routes the
	// request to its final destination.
	Complete Disposition = iota
	// Next means the current rule did not match; the caller must
	// advance to index+1 and call OnInitialRequest again.
	Next
	// Skip means the request must be sent toward the named AS, with
	// an ODI Route header carrying NextODIToken().
	Skip
	// Stop means the chain must be aborted (a default-handling
	// TERMINATE AS failed to respond).
	Stop
)

// AsChainLink is a lightweight value: a chain reference plus an
// index. It is the only surface the proxy code touches. A link holds
// a non-owning reference to its chain; validity is guaranteed by the
// caller's own strong reference (via New/Lookup), not by the link
// itself.
type AsChainLink struct {
	chain *AsChain
	index int
}

// NewLink wraps chain at index.
func NewLink(chain *AsChain, index int) AsChainLink {
	return AsChainLink{chain: chain, index: index}
}

// IsSet reports whether the link refers to a chain.
func (l AsChainLink) IsSet() bool { return l.chain != nil }

// Complete reports whether the link has walked off the end of the
// chain (index == size(ifcs)).
func (l AsChainLink) Complete() bool {
	return l.chain != nil && l.index == l.chain.Size()
}

// Index returns the link's position in the chain.
func (l AsChainLink) Index() int { return l.index }

// Chain returns the underlying chain. Present for call sites (e.g. the
// chain manager) that need chain-level operations like TrailID.
func (l AsChainLink) Chain() *AsChain { return l.chain }

// OnInitialRequest records the current request-URI for this step and
// decides how the proxy should proceed. Disposition Complete means
// route to the final destination; Next means the caller must advance
// to index+1 and re-invoke; Skip means forward toward *serverName with
// an ODI route carrying NextODIToken().
func (l AsChainLink) OnInitialRequest(msg message.Message, serverName *string) Disposition {
	l.chain.asInfo[l.index].RequestURI = msg.RequestURI()

	if l.Complete() {
		return Complete
	}

	rule := l.chain.rules[l.index]
	if !rule.Matches(l.chain.sessionCase, l.chain.isRegistered, msg.Method() == "REGISTER", msg, l.chain.trailID) {
		return Next
	}

	l.chain.asInfo[l.index].AsURI = rule.ApplicationServer.URI
	*serverName = rule.ApplicationServer.URI

	return Skip
}

// ServerURI returns the Application Server URI recorded for this
// link's index. Only meaningful once OnInitialRequest has returned
// Skip for this index.
func (l AsChainLink) ServerURI() string {
	return l.chain.asInfo[l.index].AsURI
}

// DefaultHandling returns the default handling declared for the rule
// at this link's index. Only meaningful once OnInitialRequest has
// returned Skip for this index.
func (l AsChainLink) DefaultHandling() ifc.DefaultHandling {
	if l.chain == nil || l.index >= len(l.chain.rules) {
		return ifc.Continue
	}
	return l.chain.rules[l.index].ApplicationServer.DefaultHandling
}

// TxRequest reports to the chain's ACR (if any) that msg is being sent
// toward this step's destination.
func (l AsChainLink) TxRequest(msg message.Message, ts time.Time) {
	if l.chain != nil && l.chain.acr != nil {
		l.chain.acr.TxRequest(msg, ts)
	}
}

// RxResponse reports to the chain's ACR (if any) that msg was received
// back from this step's destination.
func (l AsChainLink) RxResponse(msg message.Message, ts time.Time) {
	if l.chain != nil && l.chain.acr != nil {
		l.chain.acr.RxResponse(msg, ts)
	}
}

// TxResponse reports to the chain's ACR (if any) that msg is being
// relayed back toward the original caller.
func (l AsChainLink) TxResponse(msg message.Message, ts time.Time) {
	if l.chain != nil && l.chain.acr != nil {
		l.chain.acr.TxResponse(msg, ts)
	}
}

// OnResponse records a response status code observed for the AS at
// this link's index. A 100 Trying marks the AS responsive; any status
// >= 200 is stored as the final status code; other 1xx responses
// leave state unchanged.
func (l AsChainLink) OnResponse(statusCode int) {
	switch {
	case statusCode == 100:
		l.chain.asInfo[l.index].Responsive = true
	case statusCode >= 200:
		l.chain.asInfo[l.index].StatusCode = statusCode
		l.chain.asInfo[l.index].HasStatusCode = true
	}
}

// OnNotResponding marks the AS at this link's index as having timed
// out. The caller must then consult DefaultHandling: Terminate means
// abort the chain; Continue means advance to index+1 and re-enter
// OnInitialRequest with the original request.
func (l AsChainLink) OnNotResponding() {
	l.chain.asInfo[l.index].TimeoutObserved = true
}

// NextODIToken returns the ODI token for index+1. Valid only while
// index < size(ifcs).
func (l AsChainLink) NextODIToken() string {
	return l.chain.odiTokens[l.index+1]
}

// Release delegates to the chain's Release.
func (l AsChainLink) Release() {
	l.chain.Release()
}

// Advance returns a new link at index+1 over the same chain.
func (l AsChainLink) Advance() AsChainLink {
	return AsChainLink{chain: l.chain, index: l.index + 1}
}
