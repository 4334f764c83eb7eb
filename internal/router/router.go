// Package router maps an incoming client request path to a service
// name and upstream endpoint. It is a pure function over the path
// plus the selector table from config; it holds no state of its own.
package router

import "strings"

// Match is the result of a successful route.
type Match struct {
	Service  string
	Endpoint string
}

// Outcome distinguishes the two miss cases in spec.md §6/§7: a path
// with no selector segment at all is an unmatched path (404); a path
// whose selector isn't in the table is a router miss (400, listing
// recognized selectors, per spec.md §4.1/§7).
type Outcome int

const (
	// Matched means Match is populated.
	Matched Outcome = iota
	// NoSelector means the path had nothing to look up (404).
	NoSelector
	// UnrecognizedSelector means a selector was present but unknown (400).
	UnrecognizedSelector
)

// Route resolves path (as seen by the client, e.g. "/api/courses/1"
// or "/courses/1") against selectorToService. It strips a single
// leading "api/" segment, then looks up the first remaining segment
// as the selector. The endpoint is the remainder of the path
// INCLUDING the selector itself, since upstreams expect
// "/courses/{id}" not "/{id}".
//
// Matching is exact-selector-only: no longest-prefix search, no
// regex, no trailing-slash normalization beyond what strings.Trim
// does to the leading slash.
func Route(path string, selectorToService map[string]string) (Match, Outcome) {
	trimmed := strings.TrimPrefix(path, "/")
	trimmed = strings.TrimPrefix(trimmed, "api/")

	if trimmed == "" {
		return Match{}, NoSelector
	}

	selector := trimmed
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		selector = trimmed[:idx]
	}

	service, ok := selectorToService[selector]
	if !ok {
		return Match{}, UnrecognizedSelector
	}

	return Match{
		Service:  service,
		Endpoint: "/" + trimmed,
	}, Matched
}
