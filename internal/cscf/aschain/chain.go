// Package aschain implements the AS-chain subsystem: a shared,
// reference-counted walk through one subscriber's IFC list, plus the
// process-wide token table used to re-correlate a returning request
// from an Application Server to the exact position in its chain.
package aschain

import (
	"log/slog"
	"sync/atomic"

	"github.com/sebas/cscf/internal/cscf/acr"
	"github.com/sebas/cscf/internal/cscf/ifc"
	"github.com/sebas/cscf/internal/cscf/message"
)

// AsInfo is the per-step state mutated only by the link at that index.
type AsInfo struct {
	RequestURI      string
	AsURI           string
	StatusCode      int
	HasStatusCode   bool
	TimeoutObserved bool
	Responsive      bool
}

// AsChain is a shared owner of one served user's walk through one IFC
// list in one direction. It is destroyed exactly when its reference
// count drops to zero; destruction flushes the owned ACR (if any) and
// unregisters all of its ODI tokens from the table.
type AsChain struct {
	table       *Table
	sessionCase ifc.SessionCase
	servedUser  string
	isRegistered bool
	ifcs        ifc.Ifcs
	rules       []*ifc.Ifc
	asInfo      []AsInfo
	odiTokens   []string
	trailID     string
	acr         acr.ACR

	refs atomic.Int32
}

// New creates an AsChain, takes ownership of ifcs and acr (may be
// nil), allocates size(ifcs)+1 ODI tokens, and registers them in
// table. The returned chain starts with a reference count of 1 for
// the caller; the caller must Release it (directly, or via the
// AsChainLink returned by NewLink) when done.
func New(table *Table, sessionCase ifc.SessionCase, servedUser string, isRegistered bool, trailID string, ifcs ifc.Ifcs, a acr.ACR) *AsChain {
	rules := ifcs.Sorted()
	c := &AsChain{
		table:        table,
		sessionCase:  sessionCase,
		servedUser:   servedUser,
		isRegistered: isRegistered,
		ifcs:         ifcs,
		rules:        rules,
		asInfo:       make([]AsInfo, len(rules)+1),
		trailID:      trailID,
		acr:          a,
	}
	c.refs.Store(1)

	slog.Debug("[ASCHAIN] creating chain", "rules", len(rules), "served_user", servedUser)
	c.odiTokens = table.register(c)
	return c
}

// CreateChain builds a new AsChain and returns a link pointing at its
// start (index 0). The caller MUST eventually call Release on the
// returned link.
func CreateChain(table *Table, sessionCase ifc.SessionCase, servedUser string, isRegistered bool, trailID string, ifcs ifc.Ifcs, a acr.ACR) AsChainLink {
	c := New(table, sessionCase, servedUser, isRegistered, trailID, ifcs, a)
	return NewLink(c, 0)
}

// Size returns the number of IFC rules in the chain.
func (c *AsChain) Size() int { return len(c.rules) }

// SessionCase returns the chain's session case.
func (c *AsChain) SessionCase() ifc.SessionCase { return c.sessionCase }

// TrailID returns the tracing identifier associated with the chain.
func (c *AsChain) TrailID() string { return c.trailID }

// IncRef atomically increments the reference count. Used by
// Table.Lookup when handing out a new link to a live chain.
func (c *AsChain) IncRef() {
	c.refs.Add(1)
}

// Release atomically decrements the reference count. When it reaches
// zero, the chain is destroyed on the releasing goroutine: it emits
// its ACR (if any) and unregisters its ODI tokens. Never call Release
// without a matching prior acquisition (New or a successful Lookup).
func (c *AsChain) Release() {
	if c.refs.Add(-1) == 0 {
		c.destroy()
	}
}

func (c *AsChain) destroy() {
	slog.Debug("[ASCHAIN] destroying chain", "served_user", c.servedUser)

	if c.acr != nil {
		// Guard against an empty as_info (no IFCs at all): there is
		// nothing to report and the loop below must not underflow.
		if n := len(c.asInfo); n > 0 {
			for i := 0; i < n-1; i++ {
				info := c.asInfo[i]
				if info.AsURI == "" {
					continue
				}
				diversion := ""
				if c.asInfo[i+1].RequestURI != info.RequestURI {
					diversion = c.asInfo[i+1].RequestURI
				}
				c.acr.AsInfo(info.AsURI, diversion, info.StatusCode, info.TimeoutObserved)
			}
		}
		c.acr.SendMessage()
		c.acr = nil
	}

	c.table.unregister(c.odiTokens)
}

// MatchesTarget returns true iff the canonical request-URI of msg
// equals the served user, for terminating chains only. Alias URIs are
// explicitly unsupported: this is plain string equality after
// canonicalisation, never widened to resolve aliases.
func (c *AsChain) MatchesTarget(msg message.Message) bool {
	if c.sessionCase != ifc.Terminating {
		panic("aschain: MatchesTarget is only valid for terminating chains")
	}
	return message.CanonicalURI(c.servedUser) == message.CanonicalURI(msg.RequestURI())
}
