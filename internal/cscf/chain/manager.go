// Package chain is the proxy glue: it ties the HSS-backed IFC lookup,
// the AS-chain table, and the ACR factory together into the two
// operations the SIP layer actually calls — starting a chain for an
// initial request, and resuming one from a returning AS request's ODI
// token.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sebas/cscf/internal/cscf/acr"
	"github.com/sebas/cscf/internal/cscf/aschain"
	"github.com/sebas/cscf/internal/cscf/ifc"
	"github.com/sebas/cscf/internal/cscf/location"
	"github.com/sebas/cscf/internal/cscf/message"
)

// Manager ties the HSS-backed registration cache, the AS chain table,
// and the ACR factory together.
type Manager struct {
	Location   *location.Cache
	Table      *aschain.Table
	ACRFactory acr.Factory

	// ODIHost is the host:port advertised in the ODI Route header so
	// that a returning AS request routes back to this node.
	ODIHost string

	pendingMu sync.Mutex
	pending   map[string]aschain.AsChainLink
}

// NewManager builds a Manager from its three collaborators.
func NewManager(loc *location.Cache, table *aschain.Table, acrFactory acr.Factory, odiHost string) *Manager {
	return &Manager{
		Location:   loc,
		Table:      table,
		ACRFactory: acrFactory,
		ODIHost:    odiHost,
		pending:    make(map[string]aschain.AsChainLink),
	}
}

// Begin starts a new AS chain walk for an initial request in the
// given session case, deriving the served user from the message and
// fetching its IFCs from the HSS (via the location cache). The
// returned link is owned by the caller, which must release it
// (directly, or by forwarding ownership into a pending-transaction
// table) once the walk concludes.
func (m *Manager) Begin(ctx context.Context, msg message.Message, sessionCase ifc.SessionCase, trailID string) (aschain.AsChainLink, error) {
	originating := sessionCase != ifc.Terminating
	servedUser := message.ServedUser(msg, originating)
	if servedUser == "" {
		return aschain.AsChainLink{}, fmt.Errorf("chain: could not derive served user from message")
	}

	regData, err := m.Location.Get(ctx, servedUser)
	if err != nil {
		return aschain.AsChainLink{}, fmt.Errorf("chain: registration data lookup for %q: %w", servedUser, err)
	}

	isRegistered := regData.RegState == "REGISTERED"
	rules := regData.IfcsByPublicID[servedUser]

	initiator, direction := partyFor(sessionCase)
	a := m.ACRFactory.GetACR(trailID, initiator, direction)

	// The trigger request fixes the ACR's icid/orig-ioi/term-ioi,
	// session-id, party addresses, media, and emitted event value — it
	// must be absorbed before the chain is ever asked for a Rf record.
	a.RxRequest(msg, time.Now())

	slog.Debug("[CHAIN] beginning walk", "served_user", servedUser, "session_case", sessionCase, "rules", rules.Size())
	link := aschain.CreateChain(m.Table, sessionCase, servedUser, isRegistered, trailID, rules, a)
	return link, nil
}

// Advance walks link forward from its current index, re-invoking
// OnInitialRequest until the disposition is no longer Next. It returns
// the disposition, the link at the position the walk stopped, and (for
// Skip) the fully-formed Route header value carrying the ODI token for
// the next step.
func (m *Manager) Advance(link aschain.AsChainLink, msg message.Message) (aschain.Disposition, aschain.AsChainLink, string) {
	for {
		var serverName string
		switch d := link.OnInitialRequest(msg, &serverName); d {
		case aschain.Next:
			link = link.Advance()
			continue
		case aschain.Skip:
			route := m.buildODIRoute(link.NextODIToken())
			return aschain.Skip, link, route
		default:
			return d, link, ""
		}
	}
}

// Forwarded registers link as awaiting either a resumed request
// bearing token or a Timeout call for the same token. Call this
// immediately after Advance returns Skip and the request has been
// sent toward the named AS; it transfers the caller's ownership of
// link to the Manager until Resume or Timeout observes the outcome.
func (m *Manager) Forwarded(token string, link aschain.AsChainLink) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending[token] = link
}

// Resume looks up the chain registered under an ODI token extracted
// from a returning AS request's Route header. If a Forwarded call is
// still pending for this token, its link is released here: the fresh,
// independently ref-counted link this call returns is what keeps the
// chain alive from this point on. The bool result reports whether the
// token was found at all; false means the token is stale or unknown.
func (m *Manager) Resume(token string) (aschain.AsChainLink, bool) {
	link := m.Table.Lookup(token)
	if !link.IsSet() {
		return aschain.AsChainLink{}, false
	}

	m.pendingMu.Lock()
	pendingLink, tracked := m.pending[token]
	delete(m.pending, token)
	m.pendingMu.Unlock()
	if tracked {
		pendingLink.Release()
	}

	return link, true
}

// Timeout reports that the AS invoked for the pending forward under
// token never responded. It marks the link not-responding and returns
// it together with its DefaultHandling, so the caller can decide: on
// Terminate, release the link and abort the chain; on Continue,
// Advance the link and resume walking with the original request. The
// bool result is false if no forward is pending under token (already
// resumed, or unknown), in which case the link is unset.
func (m *Manager) Timeout(token string) (aschain.AsChainLink, ifc.DefaultHandling, bool) {
	m.pendingMu.Lock()
	link, tracked := m.pending[token]
	delete(m.pending, token)
	m.pendingMu.Unlock()
	if !tracked {
		return aschain.AsChainLink{}, ifc.Continue, false
	}

	link.OnNotResponding()
	return link, link.DefaultHandling(), true
}

func (m *Manager) buildODIRoute(token string) string {
	return fmt.Sprintf("<sip:odi_%s@%s;transport=TCP;lr>", token, m.ODIHost)
}

// ExtractODIToken pulls the opaque token out of a Route header value
// of the form `<sip:odi_<token>@host:port;transport=TCP;lr>`. The bool
// result is false if the header does not carry an odi_ user part.
func ExtractODIToken(routeValue string) (string, bool) {
	uri := message.CanonicalURI(routeValue)

	// CanonicalURI already stripped the angle brackets and params; what
	// remains is "sip:odi_<token>@host[:port]".
	rest, ok := strings.CutPrefix(uri, "sip:")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "sips:")
		if !ok {
			return "", false
		}
	}

	userinfo, _, found := strings.Cut(rest, "@")
	if !found {
		return "", false
	}

	token, ok := strings.CutPrefix(userinfo, "odi_")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func partyFor(sessionCase ifc.SessionCase) (acr.InitiatorParty, acr.Direction) {
	if sessionCase == ifc.Terminating {
		return acr.CalledParty, acr.Terminating
	}
	return acr.CallingParty, acr.Originating
}
