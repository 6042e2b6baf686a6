package council

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/agentk-dev/agentk/internal/output"
)

// Stream message types.
const (
	MessageStage  = "stage"
	MessageResult = "result"
	MessageError  = "error"
)

// StreamMessage is one line of the JSON-lines progress stream.
type StreamMessage struct {
	Type   string       `json:"type"`
	Update *StageUpdate `json:"update,omitempty"`
	Result *Result      `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Emitter writes StreamMessages to w, one JSON object per line.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesEmitter returns an Emitter writing to w.
func NewJSONLinesEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Update writes a stage message. Its signature fits Council.Run.
func (e *Emitter) Update(u StageUpdate) {
	_ = e.write(StreamMessage{Type: MessageStage, Update: &u})
}

// Result writes the final result message.
func (e *Emitter) Result(res *Result) error {
	return e.write(StreamMessage{Type: MessageResult, Result: res})
}

// Error writes a terminal error message.
func (e *Emitter) Error(err error) error {
	return e.write(StreamMessage{Type: MessageError, Error: err.Error()})
}

func (e *Emitter) write(m StreamMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(m)
}

// ErrNoResult is returned by DecodeStream when the stream ends without a
// result or error message.
var ErrNoResult = errors.New("council stream ended without a result")

// DecodeStream reads a JSON-lines stream written by an Emitter. Lines
// split across reads are reassembled, and lines that do not decode are
// skipped as progress noise. Stage messages go to onUpdate; the first
// result or error message ends the stream.
func DecodeStream(r io.Reader, onUpdate func(StageUpdate)) (*Result, error) {
	var (
		res  *Result
		err  error
		done bool
	)
	lines := output.NewLineWriter(func(line []byte) {
		if done {
			return
		}
		var m StreamMessage
		if !output.DecodeLine(line, &m) {
			return
		}
		switch m.Type {
		case MessageStage:
			if m.Update != nil && onUpdate != nil {
				onUpdate(*m.Update)
			}
		case MessageResult:
			if m.Result != nil {
				res, done = m.Result, true
			}
		case MessageError:
			err, done = errors.New(m.Error), true
		}
	})

	if _, cerr := io.Copy(lines, r); cerr != nil {
		return nil, fmt.Errorf("reading council stream: %w", cerr)
	}
	lines.Flush()

	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResult
	}
	return res, nil
}
