package health

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// States a Status can be in.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component and, optionally, its children.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Healthy creates a healthy status
func Healthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// Degraded creates a degraded status
func Degraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Unhealthy creates an unhealthy status
func Unhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// FromError creates an unhealthy status whose message is the sanitized error.
func FromError(component string, err error) Status {
	msg := "unknown error"
	if err != nil {
		msg = Sanitize(err.Error())
	}
	return Unhealthy(component, msg)
}

// Aggregate combines children into one status for component. Without
// children the result is healthy.
func Aggregate(component string, children []Status) Status {
	var unhealthy, degraded int
	for _, c := range children {
		switch {
		case c.IsUnhealthy():
			unhealthy++
		case c.IsDegraded():
			degraded++
		}
	}

	var s Status
	switch {
	case unhealthy > 0:
		s = Unhealthy(component, plural(unhealthy, "component")+" unhealthy")
	case degraded > 0:
		s = Degraded(component, plural(degraded, "component")+" degraded")
	default:
		s = Healthy(component, "all components healthy")
	}

	if len(children) > 0 {
		s.SubStatuses = make([]Status, len(children))
		copy(s.SubStatuses, children)
	}
	return s
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

var (
	urlPattern        = regexp.MustCompile(`(?i)\b(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathPattern   = regexp.MustCompile(`(?:^|\s)/[a-zA-Z0-9/_.-]+`)
	ipAddrPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portPattern       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Sanitize masks URLs, absolute paths, IP addresses, ports and credentials
// in msg.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	out := urlPattern.ReplaceAllString(msg, "[URL]")
	out = unixPathPattern.ReplaceAllStringFunc(out, func(m string) string {
		if strings.HasPrefix(m, "/") {
			return "[PATH]"
		}
		return m[:1] + "[PATH]"
	})
	out = ipAddrPattern.ReplaceAllString(out, "[IP]")
	out = portPattern.ReplaceAllString(out, "[PORT]")
	out = credentialPattern.ReplaceAllString(out, "[REDACTED]")
	return out
}
