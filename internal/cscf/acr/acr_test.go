package acr

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sebas/cscf/internal/cscf/message"
)

type fakeMessage struct {
	method  string
	ruri    string
	headers map[string][]string
	body    []byte
}

func (m fakeMessage) IsRequest() bool    { return m.method != "" }
func (m fakeMessage) Method() string     { return m.method }
func (m fakeMessage) StatusCode() int    { return 0 }
func (m fakeMessage) RequestURI() string { return m.ruri }
func (m fakeMessage) Body() []byte       { return m.body }
func (m fakeMessage) CallID() string     { return "call-acr-1" }

func (m fakeMessage) Header(key string) (string, bool) {
	vs, ok := m.headers[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (m fakeMessage) Headers(key string) []string { return m.headers[key] }

var _ message.Message = fakeMessage{}

type recordingSink struct {
	mu      sync.Mutex
	records [][]byte
}

func (s *recordingSink) SendRecord(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) last() RfRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec RfRecord
	json.Unmarshal(s.records[len(s.records)-1], &rec)
	return rec
}

func TestFactoryReturnsNullACRWithoutSink(t *testing.T) {
	f := NewFactory(ServingCSCF, nil)
	a := f.GetACR("trail-1", CallingParty, Originating)
	if _, ok := a.(nullACR); !ok {
		t.Fatalf("GetACR with nil sink = %T, want nullACR", a)
	}
	if got := a.GetMessage(time.Now()); got != nil {
		t.Errorf("NullACR.GetMessage() = %v, want nil", got)
	}
	a.SendMessage() // must not panic
}

func TestOrigCallStart(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-orig", CallingParty, Originating)

	invite := fakeMessage{
		method: "INVITE",
		ruri:   "sip:bob@example.com",
		headers: map[string][]string{
			"From":             {"sip:alice@example.com;tag=1"},
			"To":               {"sip:bob@example.com"},
			"P-Charging-Vector": {"icid-value=abc123;orig-ioi=home.net;term-ioi=visited.net"},
		},
	}

	a.RxRequest(invite, time.Now())
	a.SendMessage()

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record sent, got %d", len(sink.records))
	}

	rec := sink.last()
	if rec.Event != "START" {
		t.Errorf("Event = %q, want START", rec.Event)
	}
	if rec.ServiceInformation == nil || rec.ServiceInformation.IMSInformation == nil {
		t.Fatal("expected ServiceInformation.IMSInformation to be set")
	}
	if rec.ServiceInformation.IMSInformation.RoleOfNode != "originating" {
		t.Errorf("RoleOfNode = %q, want originating", rec.ServiceInformation.IMSInformation.RoleOfNode)
	}
	if len(rec.SubscriptionID) != 1 || rec.SubscriptionID[0].Data != "abc123" {
		t.Errorf("SubscriptionID = %+v, want ICID abc123", rec.SubscriptionID)
	}
	if len(rec.ServiceInformation.IMSInformation.InterOperatorIdentifiers) != 1 {
		t.Fatal("expected one inter-operator-identifiers entry")
	}
	ioi := rec.ServiceInformation.IMSInformation.InterOperatorIdentifiers[0]
	if ioi.OriginatingIOI != "home.net" || ioi.TerminatingIOI != "visited.net" {
		t.Errorf("IOI = %+v, want home.net/visited.net", ioi)
	}
}

func TestTermCallInterimThenStop(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-term", CalledParty, Terminating)

	invite := fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}
	a.RxRequest(invite, time.Now())
	a.SendMessage()
	if sink.last().Event != "START" {
		t.Fatalf("first SendMessage Event = %q, want START", sink.last().Event)
	}

	reInvite := fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}
	a.RxRequest(reInvite, time.Now())
	a.SendMessage()
	if sink.last().Event != "INTERIM" {
		t.Fatalf("second SendMessage Event = %q, want INTERIM", sink.last().Event)
	}

	bye := fakeMessage{method: "BYE", ruri: "sip:bob@example.com"}
	a.RxRequest(bye, time.Now())
	a.SendMessage()
	if sink.last().Event != "STOP" {
		t.Fatalf("third SendMessage Event = %q, want STOP", sink.last().Event)
	}
}

func TestRegisterEventIsNotASession(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-reg", CallingParty, Originating)

	reg := fakeMessage{method: "REGISTER", ruri: "sip:registrar.example.com"}
	a.RxRequest(reg, time.Now())
	a.SendMessage()

	if sink.last().Event != "REGISTER" {
		t.Errorf("Event = %q, want REGISTER", sink.last().Event)
	}
}

func TestGetMessageIsIdempotent(t *testing.T) {
	f := NewFactory(ProxyCSCF, &recordingSink{})
	a := f.GetACR("trail-idem", CallingParty, Originating)

	a.RxRequest(fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}, time.Now())

	first := a.GetMessage(time.Now())
	second := a.GetMessage(time.Now())

	var r1, r2 RfRecord
	json.Unmarshal(first, &r1)
	json.Unmarshal(second, &r2)
	if r1.Event != r2.Event {
		t.Errorf("GetMessage is not idempotent: %q != %q", r1.Event, r2.Event)
	}
}

func TestAsInfoRecordsInvocation(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-as", CallingParty, Originating)

	a.RxRequest(fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}, time.Now())
	a.AsInfo("sip:mmtel.example.com", "", 200, false)
	a.SendMessage()

	rec := sink.last()
	infos := rec.ServiceInformation.IMSInformation.ApplicationServersInfo
	if len(infos) != 1 {
		t.Fatalf("expected 1 AS invocation, got %d", len(infos))
	}
	if infos[0].ApplicationServer != "sip:mmtel.example.com" {
		t.Errorf("ApplicationServer = %q", infos[0].ApplicationServer)
	}
	if infos[0].StatusAsCodeExt == nil || *infos[0].StatusAsCodeExt != 200 {
		t.Errorf("StatusAsCodeExt = %v, want 200", infos[0].StatusAsCodeExt)
	}
}

func TestAsInfoTimeoutOmitsStatusCode(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-as-timeout", CallingParty, Originating)

	a.RxRequest(fakeMessage{method: "INVITE", ruri: "sip:bob@example.com"}, time.Now())
	a.AsInfo("sip:mmtel.example.com", "", 0, true)
	a.SendMessage()

	infos := sink.last().ServiceInformation.IMSInformation.ApplicationServersInfo
	if len(infos) != 1 {
		t.Fatalf("expected 1 AS invocation, got %d", len(infos))
	}
	if infos[0].StatusAsCodeExt != nil {
		t.Error("expected StatusAsCodeExt to be omitted for a timed-out AS invocation")
	}
}

func TestOverrideSessionID(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-override", CallingParty, Originating)

	a.RxRequest(fakeMessage{method: "INVITE", ruri: "sip:bob@example.com", headers: map[string][]string{
		"From": {"sip:alice@example.com"},
	}}, time.Now())
	a.OverrideSessionID("new-session-id")
	a.SendMessage()

	if sink.last().UserSessionID != "new-session-id" {
		t.Errorf("UserSessionID = %q, want new-session-id", sink.last().UserSessionID)
	}
}

func TestExtractMediaFromSDP(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(ServingCSCF, sink)
	a := f.GetACR("trail-sdp", CallingParty, Originating)

	sdp := "v=0\r\n" +
		"o=- 123 123 IN IP4 192.0.2.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 192.0.2.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 49170 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"

	a.RxRequest(fakeMessage{method: "INVITE", ruri: "sip:bob@example.com", body: []byte(sdp)}, time.Now())
	a.SendMessage()

	media := sink.last().ServiceInformation.IMSInformation.SDPMediaComponent
	if len(media) != 1 {
		t.Fatalf("expected 1 media component, got %d", len(media))
	}
	if media[0].SDPMediaName != "audio" {
		t.Errorf("SDPMediaName = %q, want audio", media[0].SDPMediaName)
	}
}
