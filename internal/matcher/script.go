package matcher

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// ScriptMatcher evaluates a feed event with an embedded goja program,
// the Go analog of the original rhai-scripted matcher. The script is
// compiled once at load time and re-run, with a fresh scope, per event.
type ScriptMatcher struct {
	source  string
	program *goja.Program
}

// NewScriptMatcher compiles the script at path.
func NewScriptMatcher(path string) (*ScriptMatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("script path is required")
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	program, err := goja.Compile(path, string(source), false)
	if err != nil {
		return nil, fmt.Errorf("compiling script %s: %w", path, err)
	}
	return &ScriptMatcher{source: path, program: program}, nil
}

// Match implements Matcher. It runs the compiled script against a fresh
// goja.Runtime so one feed's scripts can never leak state into another
// event's evaluation.
func (m *ScriptMatcher) Match(event []byte) (*Match, error) {
	var eventValue any
	if err := json.Unmarshal(event, &eventValue); err != nil {
		return nil, fmt.Errorf("script %s: decoding event: %w", m.source, err)
	}

	rt := goja.New()
	rt.Set("event", eventValue)
	rt.Set("buildAturi", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(scriptBuildATURI(call.Argument(0).Export()))
	})
	rt.Set("sequenceMatches", func(call goja.FunctionCall) goja.Value {
		values, _ := call.Argument(0).Export().([]any)
		strs := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		text, _ := call.Argument(1).Export().(string)
		return rt.ToValue(SequenceMatches(strs, text))
	})
	rt.Set("upsertMatch", func(call goja.FunctionCall) goja.Value {
		aturi, _ := call.Argument(0).Export().(string)
		return rt.ToValue(scriptMatch{Op: "upsert", ATURI: aturi})
	})
	rt.Set("updateMatch", func(call goja.FunctionCall) goja.Value {
		aturi, _ := call.Argument(0).Export().(string)
		return rt.ToValue(scriptMatch{Op: "update", ATURI: aturi})
	})

	result, err := rt.RunProgram(m.program)
	if err != nil {
		return nil, fmt.Errorf("script %s: evaluating: %w", m.source, err)
	}

	return dynamicToMatch(result.Export())
}

// scriptMatch is what upsertMatch/updateMatch hand back into the
// script's return value, and what dynamicToMatch recognizes coming out.
type scriptMatch struct {
	Op    string `json:"op"`
	ATURI string `json:"aturi"`
}

// dynamicToMatch converts a script's returned value into a *Match,
// mirroring the original's accepted return types: bool/number mean "no
// match", a string is an implicit upsert at-uri, and a match object
// (built via upsertMatch/updateMatch) passes through as-is. Anything
// else is an evaluation error.
func dynamicToMatch(value any) (*Match, error) {
	switch v := value.(type) {
	case bool, int64, float64:
		return nil, nil
	case string:
		m := upsertMatch(v)
		return &m, nil
	case scriptMatch:
		return scriptMatchToMatch(v), nil
	case map[string]any:
		op, _ := v["op"].(string)
		aturi, _ := v["aturi"].(string)
		if op == "" && aturi == "" {
			return nil, fmt.Errorf("unsupported return value type: must be number, string, or match")
		}
		return scriptMatchToMatch(scriptMatch{Op: op, ATURI: aturi}), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported return value type: must be number, string, or match")
	}
}

func scriptMatchToMatch(v scriptMatch) *Match {
	if v.Op == "update" {
		m := updateMatch(v.ATURI)
		return &m
	}
	m := upsertMatch(v.ATURI)
	return &m
}

// scriptBuildATURI mirrors the original build_aturi script helper: an
// at-uri for app.bsky.feed.post commits, or "" for anything else.
func scriptBuildATURI(event any) string {
	root, ok := event.(map[string]any)
	if !ok {
		return ""
	}
	commit, ok := root["commit"].(map[string]any)
	if !ok {
		return ""
	}
	record, ok := commit["record"].(map[string]any)
	if !ok {
		return ""
	}
	rtype, _ := record["$type"].(string)
	if rtype != "app.bsky.feed.post" {
		return ""
	}
	did, _ := root["did"].(string)
	collection, _ := commit["collection"].(string)
	rkey, _ := commit["rkey"].(string)
	if did == "" || collection == "" || rkey == "" {
		return ""
	}
	return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)
}
