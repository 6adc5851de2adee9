package domain

import (
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownField marks a structural rejection by the record store: a
	// filter or write referenced a field the table does not have.
	ErrUnknownField = errors.New("unknown field")
	ErrUnknownForm  = errors.New("unknown form")
)

// Record is a schemaless row from the durable store.
type Record struct {
	ID          string
	Fields      map[string]any
	CreatedTime time.Time
}

// UnknownFieldError names the field the store rejected, when the store said.
type UnknownFieldError struct {
	Field   string
	Message string
}

func (e *UnknownFieldError) Error() string {
	if e.Field != "" {
		return "unknown field " + e.Field + ": " + e.Message
	}
	return "unknown field: " + e.Message
}

func (e *UnknownFieldError) Unwrap() error { return ErrUnknownField }

// FormSubmission is the stored result of a form post. Dropped lists fields
// the destination table did not accept.
type FormSubmission struct {
	RecordID string   `json:"record_id"`
	Dropped  []string `json:"dropped,omitempty"`
}
