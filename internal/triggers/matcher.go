// Package triggers compiles and evaluates the data/device/introspection
// trigger tables a DataUpdater actor keeps, and serializes+publishes the
// events they fire into the outbound exchange.
package triggers

import "github.com/astarte-platform/astarte-data-updater-plant/internal/model"

// PathMatches reports whether a concrete, already-tokenized device path
// matches a trigger's compiled match_path_tokens. An empty token ("")
// matches any single path segment, never a whole subtree — spec.md is
// explicit this is not glob-style "**".
func PathMatches(matchTokens, pathTokens []string) bool {
	if len(matchTokens) != len(pathTokens) {
		return false
	}
	for i, tok := range matchTokens {
		if tok == "" {
			continue
		}
		if tok != pathTokens[i] {
			return false
		}
	}
	return true
}

// ValueMatches evaluates a trigger's value-match operator against an
// incoming value. MatchAlways never inspects the value. Operators compare
// ordered numeric types; any other combination (string equality aside) is
// treated as a non-match rather than a type error, since a non-comparable
// known_value simply means the trigger never fires for this value's type.
func ValueMatches(op model.ValueMatchOperator, known, incoming any) bool {
	if op == model.MatchAlways {
		return true
	}

	if op == model.MatchEqual || op == model.MatchNotEqual {
		eq := known == incoming
		if op == model.MatchEqual {
			return eq
		}
		return !eq
	}

	kf, kok := asFloat(known)
	vf, vok := asFloat(incoming)
	if !kok || !vok {
		return false
	}

	switch op {
	case model.MatchGreaterThan:
		return vf > kf
	case model.MatchGreaterOrEqual:
		return vf >= kf
	case model.MatchLessThan:
		return vf < kf
	case model.MatchLessOrEqual:
		return vf <= kf
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
