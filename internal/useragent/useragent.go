// Package useragent classifies raw User-Agent strings. Classification
// is plain substring matching kept as data tables; it is a
// compatibility heuristic, not a security boundary, since agents can
// send any string they like.
package useragent

import "strings"

// Agent is the requester classification used to pick a response shape.
type Agent int

const (
	// Human requesters receive a redirect to the destination.
	Human Agent = iota
	// AutomatedAgent requesters receive a metadata page describing
	// the destination instead of a redirect.
	AutomatedAgent
)

// botMarkers are matched case-insensitively, any hit classifies the
// requester as an automated agent.
var botMarkers = []string{"bot", "crawler", "spider", "crawling"}

// Classify reports whether the user agent identifies an automated agent.
func Classify(userAgent string) Agent {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return AutomatedAgent
		}
	}

	return Human
}

// FamilyOther is the fallback browser family for unmatched agents.
const FamilyOther = "Other"

// family is one row of the ordered browser matching table. The first
// matching row wins; exclude disqualifies a match (Safari UAs must not
// contain Chrome, since Chrome UAs also advertise Safari).
type family struct {
	name    string
	match   string
	exclude string
}

var families = []family{
	{name: "Chrome", match: "Chrome"},
	{name: "Firefox", match: "Firefox"},
	{name: "Safari", match: "Safari", exclude: "Chrome"},
	{name: "Edge", match: "Edge"},
	{name: "Opera", match: "Opera"},
}

// Family maps a raw user-agent string to a known browser family,
// or FamilyOther when nothing matches.
func Family(userAgent string) string {
	for _, f := range families {
		if !strings.Contains(userAgent, f.match) {
			continue
		}
		if f.exclude != "" && strings.Contains(userAgent, f.exclude) {
			continue
		}
		return f.name
	}

	return FamilyOther
}
