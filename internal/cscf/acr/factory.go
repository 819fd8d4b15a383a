package acr

import (
	"time"

	"github.com/sebas/cscf/internal/cscf/message"
)

// Factory produces ACR instances parameterised by node role and by
// the served subscriber's charging parameters (learned per-call from
// the trigger request itself, not from the factory).
type Factory interface {
	GetACR(trailID string, initiator InitiatorParty, direction Direction) ACR
}

// RalfFactory is the production Factory: it binds every ACR it hands
// out to a configured Sink and NodeRole. An unconfigured (nil) Sink
// yields a NullACR: every observation operation succeeds silently and
// GetMessage returns an empty record, so call sites never need to
// branch on whether billing is enabled.
type RalfFactory struct {
	NodeRole NodeRole
	Sink     Sink
}

// NewFactory builds a RalfFactory. Pass a nil sink to disable billing
// (NullACR is returned for every GetACR call).
func NewFactory(nodeRole NodeRole, sink Sink) *RalfFactory {
	return &RalfFactory{NodeRole: nodeRole, Sink: sink}
}

func (f *RalfFactory) GetACR(trailID string, initiator InitiatorParty, direction Direction) ACR {
	if f.Sink == nil {
		return nullACR{}
	}
	return newRalfACR(f.NodeRole, direction, initiator, f.Sink)
}

// nullACR is returned when no billing sink is configured. Every
// operation is a silent no-op; GetMessage returns an empty record.
type nullACR struct{}

var _ ACR = nullACR{}

func (nullACR) RxRequest(message.Message, time.Time)  {}
func (nullACR) TxRequest(message.Message, time.Time)  {}
func (nullACR) RxResponse(message.Message, time.Time) {}
func (nullACR) TxResponse(message.Message, time.Time) {}
func (nullACR) AsInfo(string, string, int, bool)      {}
func (nullACR) ServerCapabilities(ServerCapabilities) {}
func (nullACR) OverrideSessionID(string)              {}
func (nullACR) GetMessage(time.Time) []byte           { return nil }
func (nullACR) SendMessage()                          {}
