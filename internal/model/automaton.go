package model

import "strings"

// EndpointsAutomaton resolves a concrete device path (e.g. "/rooms/kitchen/temp")
// against an interface's templated endpoints (e.g. "/rooms/%{room}/temp"),
// the way Astarte's EndpointsAutomaton schema-loading utility does. Only its
// contract is reimplemented here (spec.md §1 lists it as an external
// collaborator); this is a direct, dependency-free reading of that contract
// rather than a port of its construction algorithm.
type EndpointsAutomaton struct {
	// endpoints maps a path's tokenized, placeholder-agnostic shape to the
	// endpoint id and full template string it denotes.
	endpoints []automatonEndpoint
}

type automatonEndpoint struct {
	tokens     []string // "" denotes a free parameter segment (the %{...} placeholders)
	endpointID [16]byte
	template   string
}

// NewEndpointsAutomaton builds an automaton from an interface's compiled
// endpoint templates.
func NewEndpointsAutomaton(mappings []Mapping) *EndpointsAutomaton {
	a := &EndpointsAutomaton{}
	for _, m := range mappings {
		a.endpoints = append(a.endpoints, automatonEndpoint{
			tokens:     tokenizeTemplate(m.Endpoint),
			endpointID: m.EndpointID,
			template:   m.Endpoint,
		})
	}
	return a
}

func tokenizeTemplate(template string) []string {
	segs := strings.Split(strings.Trim(template, "/"), "/")
	tokens := make([]string, len(segs))
	for i, s := range segs {
		if strings.HasPrefix(s, "%{") && strings.HasSuffix(s, "}") {
			tokens[i] = ""
		} else {
			tokens[i] = s
		}
	}
	return tokens
}

// ResolveResult is what ResolvePath returns: either a single matched
// endpoint, or — for object-aggregate interfaces, where a path may address
// the common parent of several endpoints — the set of endpoints "guessed"
// to share that parent.
type ResolveResult struct {
	Matched   bool
	EndpointID [16]byte
	Guessed   bool
	GuessedIDs [][16]byte
}

// ResolvePath matches a concrete path against the automaton. For individual
// interfaces it returns a single matched endpoint id. For object interfaces
// the path typically stops one segment short of each endpoint's own last
// segment; ResolvePath then reports every endpoint whose prefix matches as
// "guessed", and the caller (updater's endpoint-resolution step, spec.md
// §4.2.3 step 4) is responsible for checking that every guessed endpoint has
// exactly depth(path)+1 segments.
func (a *EndpointsAutomaton) ResolvePath(path string) ResolveResult {
	pathTokens := strings.Split(strings.Trim(path, "/"), "/")

	var exact *automatonEndpoint
	var guessed [][16]byte
	for i := range a.endpoints {
		ep := &a.endpoints[i]
		if len(ep.tokens) == len(pathTokens) && tokensMatch(ep.tokens, pathTokens) {
			exact = ep
			break
		}
		if len(ep.tokens) > len(pathTokens) && tokensMatch(ep.tokens[:len(pathTokens)], pathTokens) {
			guessed = append(guessed, ep.endpointID)
		}
	}

	if exact != nil {
		return ResolveResult{Matched: true, EndpointID: exact.endpointID}
	}
	if len(guessed) > 0 {
		return ResolveResult{Matched: true, Guessed: true, GuessedIDs: guessed}
	}
	return ResolveResult{Matched: false}
}

func tokensMatch(template, path []string) bool {
	for i, t := range template {
		if t == "" {
			continue // wildcard segment, matches anything
		}
		if t != path[i] {
			return false
		}
	}
	return true
}
