// Package output parses what an LLM CLI prints: a single JSON envelope,
// a JSON-lines progress stream, or plain text.
package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Format records which fallback stage produced a Parsed value.
type Format string

const (
	FormatJSON      Format = "json"
	FormatJSONLines Format = "jsonl"
	FormatText      Format = "text"
)

// Usage counts the tokens of one or more model calls.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.Input += o.Input
	u.Output += o.Output
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.Input + u.Output
}

// Parsed is the authoritative reading of one CLI invocation's stdout.
type Parsed struct {
	Text    string
	Usage   Usage
	Format  Format
	IsError bool
	Raw     string
}

// Structured reports whether the output was JSON of any shape.
func (p *Parsed) Structured() bool {
	return p.Format != FormatText
}

// ParseError reports output that no fallback strategy could read.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrEmpty is wrapped by the ParseError returned for empty output.
var ErrEmpty = errors.New("empty output")

// envelope is the union of the provider shapes we understand:
//
//	claude  {"type":"result","result":"...","usage":{"input_tokens":..,"output_tokens":..}}
//	gemini  {"response":"...","stats":{"models":{"<m>":{"tokens":{"prompt":..,"candidates":..}}}}}
//	codex   {"type":"item.completed","item":{"type":"agent_message","text":"..."}}
//	        {"type":"turn.completed","usage":{"input_tokens":..,"output_tokens":..}}
type envelope struct {
	Type     string         `json:"type"`
	Result   *string        `json:"result"`
	IsError  bool           `json:"is_error"`
	Response *string        `json:"response"`
	Usage    *callUsage     `json:"usage"`
	Stats    *geminiStats   `json:"stats"`
	Item     *codexItem     `json:"item"`
	Error    *envelopeError `json:"error"`
}

type callUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type geminiStats struct {
	Models map[string]struct {
		Tokens struct {
			Prompt     int `json:"prompt"`
			Candidates int `json:"candidates"`
		} `json:"tokens"`
	} `json:"models"`
}

type codexItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type envelopeError struct {
	Message string `json:"message"`
}

func (e *envelope) usage() Usage {
	var u Usage
	if e.Usage != nil {
		u.Input += e.Usage.InputTokens
		u.Output += e.Usage.OutputTokens
	}
	if e.Stats != nil {
		for _, m := range e.Stats.Models {
			u.Input += m.Tokens.Prompt
			u.Output += m.Tokens.Candidates
		}
	}
	return u
}

// text returns the answer carried by this envelope, if any.
func (e *envelope) text() (string, bool) {
	switch {
	case e.Result != nil:
		return *e.Result, true
	case e.Response != nil:
		return *e.Response, true
	case e.Item != nil && e.Item.Type == "agent_message":
		return e.Item.Text, true
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message, true
	}
	return "", false
}

// Parse reads raw CLI stdout through the fallback chain strict JSON, then
// JSON-lines, then raw text. Lines that are not JSON are ignored as
// progress noise. Only empty output is an error.
func Parse(raw []byte) (*Parsed, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ParseError{Raw: string(raw), Err: ErrEmpty}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err == nil {
		p := &Parsed{Format: FormatJSON, Raw: string(raw), Usage: env.usage(), IsError: env.IsError || env.Error != nil}
		if text, ok := env.text(); ok {
			p.Text = text
		} else {
			p.Text = string(trimmed)
		}
		return p, nil
	}

	if p, ok := parseLines(trimmed); ok {
		p.Raw = string(raw)
		return p, nil
	}

	return &Parsed{Text: string(trimmed), Format: FormatText, Raw: string(raw)}, nil
}

// parseLines folds a JSON-lines stream. Usage is summed over every line;
// the text comes from the last line that carries one.
func parseLines(data []byte) (*Parsed, bool) {
	p := &Parsed{Format: FormatJSONLines}
	found, haveText, final := false, false, false
	for _, line := range bytes.Split(data, []byte("\n")) {
		var env envelope
		if !DecodeLine(line, &env) {
			continue
		}
		found = true
		p.Usage.Add(env.usage())
		if text, ok := env.text(); ok && !final {
			// A result line is final; later messages do not replace it.
			p.Text = text
			haveText = true
			final = env.Type == "result"
		}
		if env.IsError || env.Type == "error" || env.Type == "turn.failed" {
			p.IsError = true
		}
	}
	if !found {
		return nil, false
	}
	if !haveText {
		p.Text = strings.TrimSpace(string(data))
	}
	return p, true
}

// DecodeLine decodes one line of a JSON-lines stream into v. It accepts a
// line with leading or trailing noise around a single JSON object. It
// reports false for blank lines and lines with no decodable object.
func DecodeLine(line []byte, v any) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	if json.Unmarshal(line, v) == nil {
		return true
	}
	start := bytes.IndexByte(line, '{')
	end := bytes.LastIndexByte(line, '}')
	if start < 0 || end <= start || (start == 0 && end == len(line)-1) {
		return false
	}
	return json.Unmarshal(line[start:end+1], v) == nil
}
