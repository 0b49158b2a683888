package types

import (
	"errors"
	"time"
)

// Dead-letter error kinds
type ErrorKind string

const (
	KindParse      ErrorKind = "parse-error"
	KindValidation ErrorKind = "validation-error"
	KindProcessing ErrorKind = "processing-error"
)

// ClassifiedError tags an error with a dead-letter kind. Kinds route
// records at component boundaries; the wrapped error keeps the cause.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with a dead-letter kind
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf extracts the kind from a classified error. Unclassified errors
// default to processing-error, the transient kind.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindProcessing
}

// DeadLetter is the record published for an unprocessable input
type DeadLetter struct {
	ID            string    `json:"id"`
	OriginalTopic string    `json:"original_topic"`
	Key           string    `json:"key"`
	Payload       []byte    `json:"payload"`
	ErrorMessage  string    `json:"error_message"`
	ErrorKind     ErrorKind `json:"error_kind"`
	Timestamp     time.Time `json:"timestamp"`
}

// DeadLetterSink receives records that could not be processed. Offer
// must not block the caller's hot path and must never return an error;
// a sink that cannot deliver logs and counts instead.
type DeadLetterSink interface {
	Offer(topic, key string, payload []byte, cause error, kind ErrorKind)
}
