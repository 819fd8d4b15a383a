package ifc

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/sebas/cscf/internal/cscf/message"
)

// regexCache avoids recompiling the same HSS-supplied regex on every
// match call; IFC documents are immutable and shared across chains
// for the document's lifetime, so the cache never needs invalidation
// beyond the process lifetime.
var regexCache = struct {
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compileCached(pattern string) (*regexp.Regexp, bool) {
	if re, ok := regexCache.m[pattern]; ok {
		return re, re != nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		regexCache.m[pattern] = nil
		return nil, false
	}
	regexCache.m[pattern] = re
	return re, true
}

// Matches evaluates the rule's predicate against the given message.
// Triggers combine in CNF (AND of OR-groups) or DNF (OR of AND-groups)
// per the rule's CNF flag. A missing or unrecognised trigger causes
// that single SPT to be treated as non-matching; it never aborts
// evaluation of the rest of the rule.
func (rule *Ifc) Matches(sc SessionCase, isRegistered, isRegistrationRequest bool, msg message.Message, trail string) bool {
	if len(rule.Triggers) == 0 {
		return false
	}

	if rule.CNF {
		for _, group := range rule.Triggers {
			if !matchesAny(group.SPTs, sc, isRegistered, isRegistrationRequest, msg, trail) {
				return false
			}
		}
		return true
	}

	for _, group := range rule.Triggers {
		if matchesAll(group.SPTs, sc, isRegistered, isRegistrationRequest, msg, trail) {
			return true
		}
	}
	return false
}

func matchesAny(spts []ServicePointTrigger, sc SessionCase, isRegistered, isRegistrationRequest bool, msg message.Message, trail string) bool {
	for _, spt := range spts {
		if matchSPT(spt, sc, isRegistered, isRegistrationRequest, msg, trail) {
			return true
		}
	}
	return false
}

func matchesAll(spts []ServicePointTrigger, sc SessionCase, isRegistered, isRegistrationRequest bool, msg message.Message, trail string) bool {
	for _, spt := range spts {
		if !matchSPT(spt, sc, isRegistered, isRegistrationRequest, msg, trail) {
			return false
		}
	}
	return true
}

func matchSPT(spt ServicePointTrigger, sc SessionCase, isRegistered, isRegistrationRequest bool, msg message.Message, trail string) bool {
	result, ok := evalSPT(spt, sc, isRegistered, isRegistrationRequest, msg)
	if !ok {
		slog.Debug("[IFC] unrecognised trigger, treating as non-matching", "trail", trail)
		return false
	}
	if spt.Negated {
		return !result
	}
	return result
}

// evalSPT returns (matched, recognised). recognised is false when the
// SPT carries no criteria this implementation understands.
func evalSPT(spt ServicePointTrigger, sc SessionCase, isRegistered, isRegistrationRequest bool, msg message.Message) (bool, bool) {
	switch {
	case spt.Method != "":
		return strings.EqualFold(spt.Method, msg.Method()), true

	case spt.SessionCase != nil:
		return *spt.SessionCase == sc, true

	case spt.RequestURIRegex != "":
		re, ok := compileCached(spt.RequestURIRegex)
		if !ok {
			return false, false
		}
		return re.MatchString(msg.RequestURI()), true

	case spt.HeaderName != "":
		val, present := msg.Header(spt.HeaderName)
		if !present {
			return false, true
		}
		if spt.HeaderRegex == "" {
			return true, true
		}
		re, ok := compileCached(spt.HeaderRegex)
		if !ok {
			return false, false
		}
		return re.MatchString(val), true

	case spt.SessionDescLine != "":
		re, ok := compileCached(spt.SessionDescLine)
		if !ok {
			return false, false
		}
		for _, line := range strings.Split(string(msg.Body()), "\n") {
			if re.MatchString(strings.TrimRight(line, "\r")) {
				return true, true
			}
		}
		return false, true

	case spt.RegistrationType != nil:
		if !isRegistrationRequest {
			return false, true
		}
		switch *spt.RegistrationType {
		case RegTypeInitial:
			return !isRegistered, true
		case RegTypeReRegister:
			return isRegistered, true
		case RegTypeDeRegister:
			return msg.Method() == "REGISTER" && isExpiresZero(msg), true
		}
		return false, false

	default:
		return false, false
	}
}

func isExpiresZero(msg message.Message) bool {
	val, ok := msg.Header("Expires")
	return ok && strings.TrimSpace(val) == "0"
}
