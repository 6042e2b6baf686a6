package output

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_ClaudeEnvelope(t *testing.T) {
	raw := []byte(`{
		"type": "result",
		"subtype": "success",
		"result": "Created auth.go with login function",
		"is_error": false,
		"usage": {"input_tokens": 120, "output_tokens": 45}
	}`)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Format != FormatJSON {
		t.Errorf("Format = %q, want %q", p.Format, FormatJSON)
	}
	if p.Text != "Created auth.go with login function" {
		t.Errorf("Text = %q", p.Text)
	}
	if p.Usage != (Usage{Input: 120, Output: 45}) {
		t.Errorf("Usage = %+v, want {120 45}", p.Usage)
	}
	if p.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestParse_GeminiEnvelope(t *testing.T) {
	raw := []byte(`{"response":"use a mutex","stats":{"models":{"gemini-2.5-pro":{"tokens":{"prompt":30,"candidates":12}}}}}`)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Text != "use a mutex" {
		t.Errorf("Text = %q, want %q", p.Text, "use a mutex")
	}
	if p.Usage != (Usage{Input: 30, Output: 12}) {
		t.Errorf("Usage = %+v, want {30 12}", p.Usage)
	}
}

func TestParse_CodexJSONLines(t *testing.T) {
	raw := []byte(strings.Join([]string{
		`{"type":"thread.started","thread_id":"abc"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.completed","item":{"id":"i0","type":"reasoning","text":"thinking"}}`,
		`{"type":"item.completed","item":{"id":"i1","type":"agent_message","text":"final answer"}}`,
		`{"type":"turn.completed","usage":{"input_tokens":200,"cached_input_tokens":0,"output_tokens":80}}`,
	}, "\n"))

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Format != FormatJSONLines {
		t.Errorf("Format = %q, want %q", p.Format, FormatJSONLines)
	}
	if p.Text != "final answer" {
		t.Errorf("Text = %q, want %q", p.Text, "final answer")
	}
	if p.Usage != (Usage{Input: 200, Output: 80}) {
		t.Errorf("Usage = %+v, want {200 80}", p.Usage)
	}
}

func TestParse_JSONLinesIgnoresNoise(t *testing.T) {
	raw := []byte(strings.Join([]string{
		`Loading model...`,
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}`,
		`{not json`,
		`{"type":"result","result":"done","usage":{"input_tokens":5,"output_tokens":7}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"late"}}`,
	}, "\n"))

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Text != "done" {
		t.Errorf("Text = %q, want result line to win", p.Text)
	}
	if p.Usage != (Usage{Input: 5, Output: 7}) {
		t.Errorf("Usage = %+v, want {5 7}", p.Usage)
	}
}

func TestParse_NoisyLineWithEmbeddedObject(t *testing.T) {
	raw := []byte("progress\n[info] {\"type\":\"result\",\"result\":\"ok\"} trailing\n")

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Text != "ok" {
		t.Errorf("Text = %q, want %q", p.Text, "ok")
	}
}

func TestParse_PlainText(t *testing.T) {
	p, err := Parse([]byte("  just some prose\nover two lines \n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Structured() {
		t.Error("plain text reported as structured")
	}
	if p.Text != "just some prose\nover two lines" {
		t.Errorf("Text = %q", p.Text)
	}
	if p.Usage.Total() != 0 {
		t.Errorf("Usage = %+v, want zero", p.Usage)
	}
}

func TestParse_ErrorEnvelope(t *testing.T) {
	p, err := Parse([]byte(`{"type":"result","result":"quota exceeded","is_error":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsError {
		t.Error("IsError = false, want true")
	}
}

func TestParse_UnknownJSONShapeKeepsRaw(t *testing.T) {
	p, err := Parse([]byte(`{"answer":"42"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Format != FormatJSON || p.Text != `{"answer":"42"}` {
		t.Errorf("got %q (%s), want raw object", p.Text, p.Format)
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte(" \n\t"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if !errors.Is(err, ErrEmpty) {
		t.Error("ParseError should wrap ErrEmpty")
	}
}

func TestDecodeLine(t *testing.T) {
	var v struct {
		Stage string `json:"stage"`
	}
	if DecodeLine([]byte("   "), &v) {
		t.Error("blank line decoded")
	}
	if DecodeLine([]byte(`{"stage":`), &v) {
		t.Error("truncated line decoded")
	}
	if !DecodeLine([]byte(`data: {"stage":"stage1"}`), &v) || v.Stage != "stage1" {
		t.Errorf("prefixed line: got %+v", v)
	}
}
