// Package message adapts SIP requests and responses into the narrow
// surface the IFC matcher, AS chain, and ACR builder need, so that
// core logic never imports github.com/emiago/sipgo/sip directly.
package message

import (
	"net/url"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Message is the read-only view of a SIP request or response consumed
// by ifc.Ifc.Matches, aschain.AsChainLink, and acr.ACR.
type Message interface {
	// IsRequest reports whether this message is a request.
	IsRequest() bool

	// Method returns the request method ("INVITE", "REGISTER", ...).
	// Empty for responses.
	Method() string

	// StatusCode returns the response status code. Zero for requests.
	StatusCode() int

	// RequestURI returns the raw (uncanonicalized) request-URI string.
	// Empty for responses.
	RequestURI() string

	// Header returns the raw value of the first header named key, and
	// whether it was present. Header names are matched case-insensitively.
	Header(key string) (string, bool)

	// Headers returns the raw values of every header named key, in
	// message order.
	Headers(key string) []string

	// Body returns the message body, or nil if absent.
	Body() []byte

	// CallID returns the Call-ID header value.
	CallID() string
}

// FromRequest wraps a *sip.Request as a Message.
func FromRequest(req *sip.Request) Message {
	return &requestMessage{req: req}
}

// FromResponse wraps a *sip.Response as a Message.
func FromResponse(resp *sip.Response) Message {
	return &responseMessage{resp: resp}
}

type requestMessage struct {
	req *sip.Request
}

func (m *requestMessage) IsRequest() bool    { return true }
func (m *requestMessage) Method() string     { return m.req.Method.String() }
func (m *requestMessage) StatusCode() int    { return 0 }
func (m *requestMessage) RequestURI() string { return m.req.Recipient.String() }

func (m *requestMessage) Header(key string) (string, bool) {
	h := m.req.GetHeader(key)
	if h == nil {
		return "", false
	}
	return h.Value(), true
}

func (m *requestMessage) Headers(key string) []string {
	hdrs := m.req.GetHeaders(key)
	out := make([]string, 0, len(hdrs))
	for _, h := range hdrs {
		out = append(out, h.Value())
	}
	return out
}

func (m *requestMessage) Body() []byte { return m.req.Body() }

func (m *requestMessage) CallID() string {
	if cid := m.req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

type responseMessage struct {
	resp *sip.Response
}

func (m *responseMessage) IsRequest() bool    { return false }
func (m *responseMessage) Method() string     { return "" }
func (m *responseMessage) StatusCode() int    { return int(m.resp.StatusCode) }
func (m *responseMessage) RequestURI() string { return "" }

func (m *responseMessage) Header(key string) (string, bool) {
	h := m.resp.GetHeader(key)
	if h == nil {
		return "", false
	}
	return h.Value(), true
}

func (m *responseMessage) Headers(key string) []string {
	hdrs := m.resp.GetHeaders(key)
	out := make([]string, 0, len(hdrs))
	for _, h := range hdrs {
		out = append(out, h.Value())
	}
	return out
}

func (m *responseMessage) Body() []byte { return m.resp.Body() }

func (m *responseMessage) CallID() string {
	if cid := m.resp.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

// CanonicalURI drops all URI parameters (everything from the first ';'
// in the userinfo+host portion onward, per-component) and unescapes
// percent-encoded octets, per 3GPP TS 24.229 s5.4.3.3 note 3. Alias
// URIs are explicitly unsupported: the result is compared with plain
// string equality, never resolved against known aliases.
func CanonicalURI(raw string) string {
	s := strings.TrimSpace(raw)

	// Strip a leading display-name/angle-bracket wrapper, e.g. `"bob" <sip:...>`.
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if j := strings.LastIndexByte(s, '>'); j > i {
			s = s[i+1 : j]
		}
	}

	// Drop header parameters (after '?') first, then URI parameters
	// (after the first ';' that is not part of the scheme).
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}

	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}

	return s
}

// ServedUser derives the public identity the IFC lookup and AsChain
// construction should be keyed on: the From URI on the originating
// half of a call, the Request-URI (falling back to To) on the
// terminating half.
func ServedUser(msg Message, originating bool) string {
	if originating {
		if v, ok := msg.Header("From"); ok {
			return CanonicalURI(v)
		}
		return ""
	}
	if ruri := msg.RequestURI(); ruri != "" {
		return CanonicalURI(ruri)
	}
	if v, ok := msg.Header("To"); ok {
		return CanonicalURI(v)
	}
	return ""
}
