package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rivermail/syncd/internal/delta"
)

// sseSink delivers deltas as Server-Sent Events: each delta is one
// JSON-encoded "data:" event, flushed to the client per page.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

func (s sseSink) Send(d delta.Delta) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n\n"))
	return err
}

func (s sseSink) Context() context.Context { return s.r.Context() }

func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
