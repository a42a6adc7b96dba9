package pageviews

import "strings"

// Access filters views by the device used to reach the page.
type Access string

const (
	// AccessAny counts every access method.
	AccessAny Access = "all-access"

	// AccessDesktop counts desktop site views.
	AccessDesktop Access = "desktop"

	// AccessMobileWeb counts mobile site views.
	AccessMobileWeb Access = "mobile-web"

	// AccessMobileApp counts official app views.
	AccessMobileApp Access = "mobile-app"
)

// Agent filters views by the kind of requester.
type Agent string

const (
	// AgentAny counts every agent type.
	AgentAny Agent = "all-agents"

	// AgentUser counts human users.
	AgentUser Agent = "user"

	// AgentSpider counts self-identified crawlers.
	AgentSpider Agent = "spider"

	// AgentAutomated counts traffic classified as automated.
	AgentAutomated Agent = "automated"
)

// Granularity is the time-bucket size of returned entries.
type Granularity string

const (
	// Daily buckets views per calendar day.
	Daily Granularity = "daily"

	// Monthly buckets views per calendar month.
	Monthly Granularity = "monthly"
)

// Valid reports whether a is a known access method.
func (a Access) Valid() bool {
	switch a {
	case AccessAny, AccessDesktop, AccessMobileWeb, AccessMobileApp:
		return true
	}
	return false
}

// Valid reports whether a is a known agent type.
func (a Agent) Valid() bool {
	switch a {
	case AgentAny, AgentUser, AgentSpider, AgentAutomated:
		return true
	}
	return false
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == Daily || g == Monthly
}

// ParseAccess converts an upstream token (case-insensitive) into an Access.
func ParseAccess(s string) (Access, error) {
	a := Access(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", &ValidationError{Field: "access", Value: s, Reason: "unknown access method"}
	}
	return a, nil
}

// ParseAgent converts an upstream token (case-insensitive) into an Agent.
func ParseAgent(s string) (Agent, error) {
	a := Agent(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", &ValidationError{Field: "agent", Value: s, Reason: "unknown agent type"}
	}
	return a, nil
}

// ParseGranularity converts an upstream token (case-insensitive) into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", &ValidationError{Field: "granularity", Value: s, Reason: "unknown granularity"}
	}
	return g, nil
}
