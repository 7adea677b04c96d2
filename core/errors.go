package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProtocolViolation is returned when model output lacks a message block.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnknownDelegate is returned when a recipient names no registered sub-agent.
	ErrUnknownDelegate = errors.New("unknown delegate")

	// ErrMissingRecipient is returned when delegation is requested without a recipient.
	ErrMissingRecipient = errors.New("missing recipient")

	// ErrNotInTurn is returned when a step is processed with no active stage.
	ErrNotInTurn = errors.New("not in turn")

	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)

// ProtocolError carries the raw completion text that failed to parse.
type ProtocolError struct {
	Raw string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: no message block found in response: %q", ErrProtocolViolation, e.Raw)
}

// Unwrap allows errors.Is(err, ErrProtocolViolation).
func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }

// DelegateError carries the recipient name a model asked for.
type DelegateError struct {
	Name  string
	Known []string
}

func (e *DelegateError) Error() string {
	return fmt.Sprintf("%s: %q (known: %s)", ErrUnknownDelegate, e.Name, strings.Join(e.Known, ", "))
}

// Unwrap allows errors.Is(err, ErrUnknownDelegate).
func (e *DelegateError) Unwrap() error { return ErrUnknownDelegate }

// RecordError carries the offending record and the reason decoding failed.
type RecordError struct {
	Record string
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCorruptRecord, e.Reason, e.Record)
}

// Unwrap allows errors.Is(err, ErrCorruptRecord).
func (e *RecordError) Unwrap() error { return ErrCorruptRecord }
