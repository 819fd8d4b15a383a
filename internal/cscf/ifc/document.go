// Package ifc models Initial Filter Criteria: the per-subscriber
// policy that tells the proxy which Application Servers to invoke,
// and in what order, for a given SIP request.
package ifc

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// SessionCase selects which IFC rules apply and how the served user
// is derived from a message.
type SessionCase int

const (
	Originating SessionCase = iota
	Terminating
	OriginatingCdiv
)

func (sc SessionCase) String() string {
	switch sc {
	case Originating:
		return "orig"
	case Terminating:
		return "term"
	case OriginatingCdiv:
		return "orig-cdiv"
	default:
		return "unknown"
	}
}

// DefaultHandling is the per-IFC policy applied when the AS it names
// does not respond.
type DefaultHandling int

const (
	Continue DefaultHandling = iota
	Terminate
)

// ApplicationServer is the invocation descriptor of one IFC rule.
type ApplicationServer struct {
	URI                         string
	DefaultHandling             DefaultHandling
	IncludeRegisterRequestBody  bool
	IncludeRegisterResponseBody bool
}

// Ifc is a single filter criteria rule: a priority, a matching
// predicate over the trigger point, and an invocation descriptor.
// Immutable after parse.
type Ifc struct {
	Priority          int
	CNF               bool // ConditionTypeCNF: true = conjunctive, false = disjunctive
	Triggers          []TriggerGroup
	ApplicationServer ApplicationServer

	docOrder int // tie-breaker for equal priority
}

// TriggerGroup is one group of Service Point Triggers. Within a CNF
// document, each TriggerGroup is a single term; across groups they are
// AND'd (CNF) or OR'd (DNF) per the parent Ifc's CNF flag — but inside
// Clearwater's schema a TriggerGroup itself aggregates a list of SPTs
// combined by the same CNF/DNF rule applied one level down, matching
// the nested <TriggerPoint><SPT>... structure.
type TriggerGroup struct {
	SPTs []ServicePointTrigger
}

// ServicePointTrigger is one atomic matching condition.
type ServicePointTrigger struct {
	Method           string // SIP method equals X
	SessionCase      *SessionCase
	RequestURIRegex  string
	HeaderName       string
	HeaderRegex      string
	SessionDescLine  string // SDP line regex
	RegistrationType *RegistrationType
	Negated          bool
}

// RegistrationType is the REGISTER-specific SPT.
type RegistrationType int

const (
	RegTypeInitial RegistrationType = iota
	RegTypeReRegister
	RegTypeDeRegister
)

// Ifcs is the ordered, immutable sequence of Ifc rules for a single
// ServiceProfile, borrowing from a shared Document owned by the HSS
// client for the document's lifetime.
type Ifcs struct {
	doc   *Document
	rules []*Ifc
}

// Size returns the number of rules.
func (i Ifcs) Size() int { return len(i.rules) }

// Sorted returns rules ascending by Priority, ties broken by document
// order (parse order), as a fresh slice.
func (i Ifcs) Sorted() []*Ifc {
	out := make([]*Ifc, len(i.rules))
	copy(out, i.rules)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority < out[b].Priority
		}
		return out[a].docOrder < out[b].docOrder
	})
	return out
}

// At returns the rule at index i in priority order (see Sorted).
// Callers that need repeated indexed access should call Sorted once
// and index into the result; At re-sorts on every call and exists for
// convenience in tests and small call sites.
func (i Ifcs) At(idx int) *Ifc {
	return i.Sorted()[idx]
}

// Document is the immutable, shared parse of one HSS XML response.
// Multiple Ifcs (one per ServiceProfile / public identity) can borrow
// rule slices from the same Document for its lifetime.
type Document struct {
	RegistrationState string
	ByPublicID        map[string]Ifcs
	AssociatedURIs    []string
}

// ErrMalformedHSSXML is returned (wrapped) when the document does not
// conform to the normative ClearwaterRegData shape.
var ErrMalformedHSSXML = errors.New("malformed HSS XML")

// xmlClearwaterRegData mirrors the Sh/HSS ClearwaterRegData XML shape.
type xmlClearwaterRegData struct {
	XMLName           xml.Name          `xml:"ClearwaterRegData"`
	RegistrationState string            `xml:"RegistrationState"`
	IMSSubscription   *xmlIMSSubscription `xml:"IMSSubscription"`
}

type xmlIMSSubscription struct {
	ServiceProfiles []xmlServiceProfile `xml:"ServiceProfile"`
}

type xmlServiceProfile struct {
	PublicIdentities []xmlPublicIdentity `xml:"PublicIdentity"`
	IFCs             []xmlIFC            `xml:"InitialFilterCriteria"`
}

type xmlPublicIdentity struct {
	Identity string `xml:"Identity"`
}

type xmlIFC struct {
	Priority            int                 `xml:"Priority"`
	ConditionTypeCNF    bool                `xml:"TriggerPoint>ConditionTypeCNF"`
	SPTs                []xmlSPT            `xml:"TriggerPoint>SPT"`
	ApplicationServer   xmlApplicationServer `xml:"ApplicationServer"`
}

type xmlSPT struct {
	ConditionNegated    bool     `xml:"ConditionNegated"`
	Group               int      `xml:"Group"`
	Method              string   `xml:"Method"`
	SIPHeader           *xmlSIPHeader `xml:"SIPHeader"`
	SessionCase         *int     `xml:"SessionCase"`
	RequestURI          string   `xml:"RequestURI"`
	SessionDescription  *xmlSessionDescription `xml:"SessionDescription"`
	RegistrationType    *int     `xml:"RegistrationType"`
}

type xmlSIPHeader struct {
	Header string `xml:"Header"`
	Regex  string `xml:"Content"`
}

type xmlSessionDescription struct {
	Line    string `xml:"Line"`
	Content string `xml:"Content"`
}

type xmlApplicationServer struct {
	ServerName                  string `xml:"ServerName"`
	DefaultHandling             int    `xml:"DefaultHandling"`
	ServiceInfo                 string `xml:"ServiceInfo"`
	IncludeRegisterRequest      *struct{} `xml:"Extension>IncludeRegisterRequest"`
	IncludeRegisterResponse     *struct{} `xml:"Extension>IncludeRegisterResponse"`
}

// ParseIfcs parses the ClearwaterRegData XML document shape consumed
// from the HSS client. A missing ClearwaterRegData root, missing
// RegistrationState, or unknown child is a parse failure: it never
// panics, returns (nil, fmt.Errorf(...ErrMalformedHSSXML...)) and logs
// at warn.
func ParseIfcs(data []byte) (*Document, error) {
	var root xmlClearwaterRegData
	if err := xml.Unmarshal(data, &root); err != nil {
		slog.Warn("[IFC] Malformed HSS XML", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedHSSXML, err)
	}
	if root.XMLName.Local != "ClearwaterRegData" {
		slog.Warn("[IFC] Malformed HSS XML", "reason", "missing ClearwaterRegData root")
		return nil, fmt.Errorf("%w: missing ClearwaterRegData root", ErrMalformedHSSXML)
	}
	if root.RegistrationState == "" {
		slog.Warn("[IFC] Malformed HSS XML", "reason", "missing RegistrationState")
		return nil, fmt.Errorf("%w: missing RegistrationState", ErrMalformedHSSXML)
	}
	switch root.RegistrationState {
	case "REGISTERED", "UNREGISTERED", "NOT_REGISTERED":
	default:
		slog.Warn("[IFC] Malformed HSS XML", "reason", "unknown RegistrationState", "value", root.RegistrationState)
		return nil, fmt.Errorf("%w: unknown RegistrationState %q", ErrMalformedHSSXML, root.RegistrationState)
	}

	var children struct {
		Elems []struct {
			XMLName xml.Name
		} `xml:",any"`
	}
	if err := xml.Unmarshal(data, &children); err == nil {
		for _, el := range children.Elems {
			if el.XMLName.Local != "RegistrationState" && el.XMLName.Local != "IMSSubscription" {
				slog.Warn("[IFC] Malformed HSS XML", "reason", "unknown child", "element", el.XMLName.Local)
				return nil, fmt.Errorf("%w: unknown child %q", ErrMalformedHSSXML, el.XMLName.Local)
			}
		}
	}

	doc := &Document{
		RegistrationState: root.RegistrationState,
		ByPublicID:        make(map[string]Ifcs),
	}

	if root.IMSSubscription == nil {
		return doc, nil
	}

	for _, sp := range root.IMSSubscription.ServiceProfiles {
		rules := make([]*Ifc, 0, len(sp.IFCs))
		for order, x := range sp.IFCs {
			rules = append(rules, convertIFC(x, order))
		}
		ifcs := Ifcs{doc: doc, rules: rules}
		for _, pid := range sp.PublicIdentities {
			if pid.Identity == "" {
				continue
			}
			doc.ByPublicID[pid.Identity] = ifcs
			doc.AssociatedURIs = append(doc.AssociatedURIs, pid.Identity)
		}
	}

	return doc, nil
}

func convertIFC(x xmlIFC, order int) *Ifc {
	rule := &Ifc{
		Priority: x.Priority,
		CNF:      x.ConditionTypeCNF,
		docOrder: order,
		ApplicationServer: ApplicationServer{
			URI: x.ApplicationServer.ServerName,
		},
	}
	if x.ApplicationServer.DefaultHandling == 1 {
		rule.ApplicationServer.DefaultHandling = Terminate
	}
	rule.ApplicationServer.IncludeRegisterRequestBody = x.ApplicationServer.IncludeRegisterRequest != nil
	rule.ApplicationServer.IncludeRegisterResponseBody = x.ApplicationServer.IncludeRegisterResponse != nil

	groups := map[int][]ServicePointTrigger{}
	var groupOrder []int
	for _, s := range x.SPTs {
		spt := ServicePointTrigger{
			Method:  s.Method,
			Negated: s.ConditionNegated,
		}
		if s.SIPHeader != nil {
			spt.HeaderName = s.SIPHeader.Header
			spt.HeaderRegex = s.SIPHeader.Regex
		}
		if s.SessionCase != nil {
			sc := SessionCase(*s.SessionCase)
			spt.SessionCase = &sc
		}
		if s.RequestURI != "" {
			spt.RequestURIRegex = s.RequestURI
		}
		if s.SessionDescription != nil {
			spt.SessionDescLine = s.SessionDescription.Line + s.SessionDescription.Content
		}
		if s.RegistrationType != nil {
			rt := RegistrationType(*s.RegistrationType)
			spt.RegistrationType = &rt
		}
		if _, seen := groups[s.Group]; !seen {
			groupOrder = append(groupOrder, s.Group)
		}
		groups[s.Group] = append(groups[s.Group], spt)
	}
	for _, g := range groupOrder {
		rule.Triggers = append(rule.Triggers, TriggerGroup{SPTs: groups[g]})
	}

	return rule
}
