package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Output is the record emitted for every assertion that ran. Exactly one of
// Asserted, Rectified and WouldRectify is set, holding the asserter name.
type Output struct {
	Asserted     string `json:"asserted,omitempty"`
	Rectified    string `json:"rectified,omitempty"`
	WouldRectify string `json:"wouldRectify,omitempty"`
	Description  string `json:"description,omitempty"`
	Result       any    `json:"result"`
	// Host is set when the record was relayed from a remote run.
	Host string `json:"host,omitempty"`
}

// Name returns the asserter name whichever outcome field holds it.
func (o *Output) Name() string {
	switch {
	case o.Asserted != "":
		return o.Asserted
	case o.Rectified != "":
		return o.Rectified
	default:
		return o.WouldRectify
	}
}

// Outcome returns "asserted", "rectified" or "wouldRectify".
func (o *Output) Outcome() string {
	switch {
	case o.Asserted != "":
		return "asserted"
	case o.Rectified != "":
		return "rectified"
	case o.WouldRectify != "":
		return "wouldRectify"
	}
	return ""
}

// Sink receives engine progress. Implementations must be safe for use by
// several engines at once.
type Sink interface {
	// Started is called before an asserter's Assert.
	Started(name, description string)
	Emit(out *Output) error
}

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLSink returns a sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

// Started is a no-op; line output carries completed records only.
func (s *JSONLSink) Started(name, description string) {}

// Emit writes out as a single line.
func (s *JSONLSink) Emit(out *Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Started(string, string) {}
func (discard) Emit(*Output) error     { return nil }
