// Package events publishes supervisor lifecycle events.
//
// Each event is a JSON document published on the subject
// "procguard.lifecycle.<type>". Publishing is best effort: a supervisor
// never delays or aborts shutdown because an event could not be sent.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// Common errors.
var (
	ErrClosed      = errors.New("publisher closed")
	ErrInvalidType = errors.New("invalid event type")
)

// SubjectPrefix is prepended to the event type to form the subject.
const SubjectPrefix = "procguard.lifecycle."

// Type identifies a lifecycle event.
type Type string

const (
	// TypeSignalReceived is emitted when an OS signal is delivered.
	TypeSignalReceived Type = "signal_received"

	// TypeShutdownStarted is emitted when the sequencer begins.
	TypeShutdownStarted Type = "shutdown_started"

	// TypeTasksDrained is emitted when every cancelled task has finished.
	TypeTasksDrained Type = "tasks_drained"

	// TypeTreeTerminated is emitted after the process tree was terminated.
	TypeTreeTerminated Type = "tree_terminated"

	// TypeParentLost is emitted by the liveness monitor before it exits.
	TypeParentLost Type = "parent_lost"
)

// Subject returns the subject events of this type are published on.
func (t Type) Subject() string {
	return SubjectPrefix + string(t)
}

// Event is one lifecycle event.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`

	// Supervisor is the ID of the emitting supervisor.
	Supervisor string `json:"supervisor,omitempty"`

	// PID is the host process.
	PID int `json:"pid"`

	Signal string `json:"signal,omitempty"`

	// Target is the process the event is about (tree root, lost parent).
	Target int `json:"target,omitempty"`

	// Count is type specific: tasks drained, descendants terminated.
	Count int `json:"count,omitempty"`

	// ExitCode is set for parent_lost.
	ExitCode *int `json:"exit_code,omitempty"`

	Error *pgerrors.Error `json:"error,omitempty"`

	Data map[string]string `json:"data,omitempty"`
}

// New creates an event of type t stamped with the current time and PID.
func New(t Type) Event {
	return Event{
		Type: t,
		Time: time.Now().UTC(),
		PID:  os.Getpid(),
	}
}

// WithError attaches err as a structured error.
func (e Event) WithError(err error) Event {
	if err == nil {
		return e
	}
	var structured *pgerrors.Error
	if errors.As(err, &structured) {
		e.Error = structured
	} else {
		e.Error = pgerrors.Wrap(err, string(e.Type))
	}
	return e
}

// WithExitCode sets the exit code.
func (e Event) WithExitCode(code int) Event {
	e.ExitCode = &code
	return e
}

// Subject returns the subject this event is published on.
func (e Event) Subject() string {
	return e.Type.Subject()
}

// Encode marshals e for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals an event produced by Encode.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the event can be published.
func (e Event) Validate() error {
	if e.Type == "" {
		return ErrInvalidType
	}
	return nil
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
