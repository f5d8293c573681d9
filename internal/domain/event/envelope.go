package event

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrMissingID     = errors.New("event id is required")
	ErrMissingType   = errors.New("event type is required")
	ErrMissingSource = errors.New("event source is required")
)

// Envelope is the inbound event submitted by field devices.
// Data is kept as raw JSON until the worker extracts the read fields.
type Envelope struct {
	SpecVersion     string          `json:"specversion,omitempty"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Time            *time.Time      `json:"time,omitempty"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

func (e *Envelope) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.Type == "" {
		return ErrMissingType
	}
	if e.Source == "" {
		return ErrMissingSource
	}
	return nil
}
