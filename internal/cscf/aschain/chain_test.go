package aschain

import (
	"testing"
	"time"

	"github.com/sebas/cscf/internal/cscf/acr"
	"github.com/sebas/cscf/internal/cscf/ifc"
	"github.com/sebas/cscf/internal/cscf/message"
)

type fakeMessage struct {
	method string
	ruri   string
}

func (m fakeMessage) IsRequest() bool                   { return true }
func (m fakeMessage) Method() string                    { return m.method }
func (m fakeMessage) StatusCode() int                    { return 0 }
func (m fakeMessage) RequestURI() string                { return m.ruri }
func (m fakeMessage) Body() []byte                      { return nil }
func (m fakeMessage) CallID() string                    { return "call-1" }
func (m fakeMessage) Header(string) (string, bool)      { return "", false }
func (m fakeMessage) Headers(string) []string           { return nil }

var _ message.Message = fakeMessage{}

type fakeACR struct {
	sent       bool
	asInvoked  []string
}

func (a *fakeACR) RxRequest(message.Message, time.Time)  {}
func (a *fakeACR) TxRequest(message.Message, time.Time)  {}
func (a *fakeACR) RxResponse(message.Message, time.Time) {}
func (a *fakeACR) TxResponse(message.Message, time.Time) {}
func (a *fakeACR) AsInfo(asURI, redirect string, statusCode int, timeout bool) {
	a.asInvoked = append(a.asInvoked, asURI)
}
func (a *fakeACR) ServerCapabilities(acr.ServerCapabilities) {}
func (a *fakeACR) OverrideSessionID(string)                  {}
func (a *fakeACR) GetMessage(time.Time) []byte               { return nil }
func (a *fakeACR) SendMessage()                              { a.sent = true }

var _ acr.ACR = (*fakeACR)(nil)

func TestChainEmptyCompletesImmediately(t *testing.T) {
	table := NewTable()
	link := CreateChain(table, ifc.Originating, "sip:alice@example.com", true, "trail-1", ifc.Ifcs{}, &fakeACR{})

	var serverName string
	if d := link.OnInitialRequest(fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}, &serverName); d != Complete {
		t.Fatalf("disposition = %v, want Complete", d)
	}

	link.Release()
}

func TestChainSkipsToMatchingAS(t *testing.T) {
	xmlDoc := []byte(`<ClearwaterRegData>
  <RegistrationState>REGISTERED</RegistrationState>
  <IMSSubscription>
    <ServiceProfile>
      <PublicIdentity><Identity>sip:alice@example.com</Identity></PublicIdentity>
      <InitialFilterCriteria>
        <Priority>1</Priority>
        <TriggerPoint>
          <ConditionTypeCNF>0</ConditionTypeCNF>
          <SPT><ConditionNegated>0</ConditionNegated><Group>0</Group><Method>MESSAGE</Method></SPT>
        </TriggerPoint>
        <ApplicationServer><ServerName>sip:as1.example.com</ServerName><DefaultHandling>0</DefaultHandling></ApplicationServer>
      </InitialFilterCriteria>
      <InitialFilterCriteria>
        <Priority>2</Priority>
        <TriggerPoint>
          <ConditionTypeCNF>0</ConditionTypeCNF>
          <SPT><ConditionNegated>0</ConditionNegated><Group>0</Group><Method>INVITE</Method></SPT>
        </TriggerPoint>
        <ApplicationServer><ServerName>sip:as2.example.com</ServerName><DefaultHandling>1</DefaultHandling></ApplicationServer>
      </InitialFilterCriteria>
    </ServiceProfile>
  </IMSSubscription>
</ClearwaterRegData>`)

	doc, err := ifc.ParseIfcs(xmlDoc)
	if err != nil {
		t.Fatalf("ParseIfcs() error = %v", err)
	}
	rules := doc.ByPublicID["sip:alice@example.com"]

	table := NewTable()
	a := &fakeACR{}
	link := CreateChain(table, ifc.Originating, "sip:alice@example.com", true, "trail-1", rules, a)

	msg := fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}

	var serverName string
	d := link.OnInitialRequest(msg, &serverName)
	if d != Next {
		t.Fatalf("first rule (MESSAGE-only) disposition = %v, want Next", d)
	}

	link = link.Advance()
	d = link.OnInitialRequest(msg, &serverName)
	if d != Skip {
		t.Fatalf("second rule (INVITE) disposition = %v, want Skip", d)
	}
	if serverName != "sip:as2.example.com" {
		t.Errorf("serverName = %q, want sip:as2.example.com", serverName)
	}
	if link.ServerURI() != "sip:as2.example.com" {
		t.Errorf("ServerURI() = %q, want sip:as2.example.com", link.ServerURI())
	}
	if link.DefaultHandling() != ifc.Terminate {
		t.Error("DefaultHandling() should be Terminate for the second rule")
	}

	token := link.NextODIToken()
	if token == "" {
		t.Fatal("expected a non-empty next ODI token")
	}

	// Simulate the AS never responding: advance past it and complete.
	link.OnNotResponding()
	link = link.Advance()
	d = link.OnInitialRequest(msg, &serverName)
	if d != Complete {
		t.Fatalf("disposition after exhausting rules = %v, want Complete", d)
	}

	link.Release()
	if !a.sent {
		t.Error("expected SendMessage to have been called on chain destruction")
	}
	if len(a.asInvoked) != 1 || a.asInvoked[0] != "sip:as2.example.com" {
		t.Errorf("asInvoked = %v, want [sip:as2.example.com]", a.asInvoked)
	}
}

func TestTableLookupIncrementsRefAndReleaseDestroys(t *testing.T) {
	doc, err := ifc.ParseIfcs([]byte(`<ClearwaterRegData>
  <RegistrationState>REGISTERED</RegistrationState>
  <IMSSubscription>
    <ServiceProfile>
      <PublicIdentity><Identity>sip:alice@example.com</Identity></PublicIdentity>
      <InitialFilterCriteria>
        <Priority>1</Priority>
        <TriggerPoint>
          <ConditionTypeCNF>0</ConditionTypeCNF>
          <SPT><ConditionNegated>0</ConditionNegated><Group>0</Group><Method>INVITE</Method></SPT>
        </TriggerPoint>
        <ApplicationServer><ServerName>sip:as1.example.com</ServerName><DefaultHandling>0</DefaultHandling></ApplicationServer>
      </InitialFilterCriteria>
    </ServiceProfile>
  </IMSSubscription>
</ClearwaterRegData>`))
	if err != nil {
		t.Fatalf("ParseIfcs() error = %v", err)
	}
	rules := doc.ByPublicID["sip:alice@example.com"]

	table := NewTable()
	a := &fakeACR{}
	link := CreateChain(table, ifc.Originating, "sip:alice@example.com", true, "trail-2", rules, a)

	token := link.NextODIToken()

	found := table.Lookup(token)
	if !found.IsSet() {
		t.Fatal("Lookup should find the registered token")
	}

	// Two live references now: the original link, and the one handed
	// out by Lookup above. Release both; only the second should
	// destroy the chain and unregister its tokens.
	link.Release()
	if a.sent {
		t.Fatal("chain should not be destroyed while a reference is still outstanding")
	}

	found.Release()

	if table.Lookup(token).IsSet() {
		t.Error("expected token to be unregistered once every reference is released")
	}
	if !a.sent {
		t.Error("expected SendMessage to fire on final Release")
	}
}

func TestTableLookupUnknownTokenIsUnset(t *testing.T) {
	table := NewTable()
	if table.Lookup("does-not-exist").IsSet() {
		t.Error("expected Lookup of an unknown token to return an unset link")
	}
}

func TestChainMatchesTargetRequiresTerminating(t *testing.T) {
	table := NewTable()
	link := CreateChain(table, ifc.Originating, "sip:alice@example.com", true, "trail-3", ifc.Ifcs{}, &fakeACR{})
	defer link.Release()

	defer func() {
		if recover() == nil {
			t.Error("expected MatchesTarget to panic for an originating chain")
		}
	}()
	link.Chain().MatchesTarget(fakeMessage{ruri: "sip:alice@example.com"})
}

func TestChainMatchesTargetTerminating(t *testing.T) {
	table := NewTable()
	link := CreateChain(table, ifc.Terminating, "sip:alice@example.com", true, "trail-4", ifc.Ifcs{}, &fakeACR{})
	defer link.Release()

	if !link.Chain().MatchesTarget(fakeMessage{ruri: "sip:alice@example.com;transport=tcp"}) {
		t.Error("expected MatchesTarget to match after canonicalisation")
	}
	if link.Chain().MatchesTarget(fakeMessage{ruri: "sip:bob@example.com"}) {
		t.Error("expected MatchesTarget not to match a different user")
	}
}
