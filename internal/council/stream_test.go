package council

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/agentk-dev/agentk/internal/output"
)

func TestStreamRoundTripAcrossSplitReads(t *testing.T) {
	var buf bytes.Buffer
	em := NewJSONLinesEmitter(&buf)
	em.Update(StageUpdate{Stage: Stage1, Number: 1, Participant: "claude", TotalTokens: output.Usage{Input: 3}})
	buf.WriteString("progress: thinking...\n")
	em.Update(StageUpdate{Stage: Stage1, Number: 1, Done: true, Responses: map[string]string{"claude": "hi"}})
	buf.WriteString("{\"type\": \"stage\", \"update\": \n")
	if err := em.Result(&Result{Query: "q", FinalResponse: "answer", Chairman: "claude"}); err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	em.Update(StageUpdate{Stage: Stage3})

	var updates []StageUpdate
	res, err := DecodeStream(iotest.OneByteReader(&buf), func(u StageUpdate) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("DecodeStream failed: %v", err)
	}
	if res.FinalResponse != "answer" || res.Chairman != "claude" {
		t.Errorf("result = %+v", res)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2 (noise and trailing lines ignored)", len(updates))
	}
	if updates[0].TotalTokens.Input != 3 || updates[1].Responses["claude"] != "hi" {
		t.Errorf("updates = %+v", updates)
	}
}

func TestDecodeStreamError(t *testing.T) {
	var buf bytes.Buffer
	em := NewJSONLinesEmitter(&buf)
	em.Update(StageUpdate{Stage: StageScout})
	if err := em.Error(ErrNoBackend); err != nil {
		t.Fatalf("Error failed: %v", err)
	}

	_, err := DecodeStream(&buf, nil)
	if err == nil || err.Error() != ErrNoBackend.Error() {
		t.Errorf("err = %v, want %q", err, ErrNoBackend)
	}
}

func TestDecodeStreamWithoutResult(t *testing.T) {
	_, err := DecodeStream(strings.NewReader("not json\n{\"type\":\"stage\"}"), nil)
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("err = %v, want ErrNoResult", err)
	}
}

func TestDecodeStreamFinalLineWithoutNewline(t *testing.T) {
	raw := `{"type":"result","result":{"query":"q","final_response":"done"}}`
	res, err := DecodeStream(strings.NewReader(raw), nil)
	if err != nil {
		t.Fatalf("DecodeStream failed: %v", err)
	}
	if res.FinalResponse != "done" {
		t.Errorf("FinalResponse = %q, want done", res.FinalResponse)
	}
}
