package events

import (
	"errors"
	"fmt"
)

var (
	ErrConnection  = errors.New("event stream connection failed")
	ErrParse       = errors.New("malformed event envelope")
	ErrServerEvent = errors.New("server reported an error")
)

// ConnectionError is a transport failure. The client absorbs it and
// reconnects; callers only see it through Status.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("event stream %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ParseError reports a message that could not be decoded. The stream stays open.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	payload := e.Payload
	if len(payload) > 64 {
		payload = payload[:64] + "..."
	}
	return fmt.Sprintf("parse event %q: %v", payload, e.Err)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ServerError carries the message of an "error" envelope.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "event stream: " + e.Message
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServerEvent
}
