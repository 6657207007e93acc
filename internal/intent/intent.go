// Package intent turns the free-text reply of an intent classifier into a
// structured {agent, action, parameters} request.
//
// Classifier replies are untrusted: the payload may be wrapped in prose,
// carry comments or trailing commas, or be missing entirely. Extract is the
// strict path and reports a ParseError; Resolve never fails and substitutes
// the diagnose fallback.
package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Agent names the agent that should handle an intent.
type Agent string

const (
	RaspberryPi Agent = "raspberry_pi"
	ESPDevice   Agent = "esp_device"
)

// FallbackAction is used when no intent can be extracted. Diagnosis is
// read-only and always safe to attempt.
const FallbackAction = "diagnose"

// Intent is a classified request.
type Intent struct {
	Agent      Agent          `json:"agent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ParseError is returned when text holds no usable intent.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no intent found: %s: %v", e.Reason, e.Err)
	}
	return "no intent found: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extract returns the first well-formed intent object in text.
//
// The widest span from the first '{' to the last '}' is tried first, which
// covers a payload surrounded by prose. If that does not parse, decoding is
// restarted at every later '{' and the first object that decodes is used, so
// stray braces in the prose before or after the payload are skipped. An
// object counts as an intent only if it names an action.
func Extract(text string) (Intent, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return Intent{}, &ParseError{Reason: "no object in text"}
	}

	in, err := decode(text[start : end+1])
	if err == nil {
		return in, nil
	}
	firstErr := err

	for i := start; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if in, err := decodeFirst(text[i:]); err == nil {
			return in, nil
		}
	}

	return Intent{}, &ParseError{Reason: "no valid intent object", Err: firstErr}
}

// errNoAction marks an object that parsed but names no action.
var errNoAction = errors.New("object has no action")

// decode parses candidate as exactly one intent object.
func decode(candidate string) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(jsonc.ToJSON([]byte(candidate)), &in); err != nil {
		return Intent{}, err
	}
	return normalize(in)
}

// decodeFirst parses the object at the start of text and ignores whatever
// follows it.
func decodeFirst(text string) (Intent, error) {
	var in Intent
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(text))))
	if err := dec.Decode(&in); err != nil {
		return Intent{}, err
	}
	return normalize(in)
}

func normalize(in Intent) (Intent, error) {
	in.Action = strings.TrimSpace(in.Action)
	if in.Action == "" {
		return Intent{}, errNoAction
	}
	in.Agent = Agent(strings.TrimSpace(string(in.Agent)))
	if in.Parameters == nil {
		in.Parameters = map[string]any{}
	}
	return in, nil
}

// Fallback guesses the agent from a keyword and asks it to diagnose.
func Fallback(text string) Intent {
	agent := ESPDevice
	if strings.Contains(strings.ToLower(text), "pi") {
		agent = RaspberryPi
	}
	return Intent{Agent: agent, Action: FallbackAction, Parameters: map[string]any{}}
}

// Resolve extracts an intent from text, or returns the fallback when none
// can be found. fellBack reports which path was taken. Resolve never panics.
func Resolve(text string) (in Intent, fellBack bool) {
	defer func() {
		if r := recover(); r != nil {
			in, fellBack = Fallback(text), true
		}
	}()

	in, err := Extract(text)
	if err != nil {
		return Fallback(text), true
	}
	return in, false
}
