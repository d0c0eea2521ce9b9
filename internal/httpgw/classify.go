package httpgw

import (
	"net"
	"net/http"
	"strings"

	"gatewayd/internal/config"
	"gatewayd/internal/session"
)

// classification is the result of running a request through the ordered
// client-class rule table (spec.md §4.9: "by User-Agent substring, then
// request headers, then query parameters").
type classification struct {
	Class      session.ClientClass
	Template   string
	Resilience bool
}

var defaultClassification = classification{
	Class:      session.ClassExternalPlayer,
	Template:   "mpegts_copy",
	Resilience: true,
}

// classify applies rules in order and returns the first match, falling
// back to defaultClassification if none match.
func classify(r *http.Request, rules []config.ClientClassRule) classification {
	ua := r.UserAgent()
	for _, rule := range rules {
		if rule.Substring != "" && strings.Contains(ua, rule.Substring) {
			return classification{Class: session.ClientClass(rule.Class), Template: rule.Template, Resilience: rule.Resilience}
		}
	}
	for _, rule := range rules {
		if rule.Substring != "" && headerContains(r, rule.Substring) {
			return classification{Class: session.ClientClass(rule.Class), Template: rule.Template, Resilience: rule.Resilience}
		}
	}
	for _, rule := range rules {
		if rule.Substring != "" && queryContains(r, rule.Substring) {
			return classification{Class: session.ClientClass(rule.Class), Template: rule.Template, Resilience: rule.Resilience}
		}
	}
	return defaultClassification
}

func headerContains(r *http.Request, needle string) bool {
	for _, values := range r.Header {
		for _, v := range values {
			if strings.Contains(v, needle) {
				return true
			}
		}
	}
	return false
}

func queryContains(r *http.Request, needle string) bool {
	for _, values := range r.URL.Query() {
		for _, v := range values {
			if strings.Contains(v, needle) {
				return true
			}
		}
	}
	return false
}

// clientIdentity extracts a stable per-client identity for the Session
// Registry's conflict policy (§4.4), normalized the way the teacher's
// proxy.Registry.Register does: strip the port, strip an IPv4-in-IPv6
// prefix.
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if strings.HasPrefix(host, "::ffff:") {
		host = host[len("::ffff:"):]
	}
	return host
}
