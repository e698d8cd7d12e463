// Package codec converts positional event arguments to and from the wire
// envelope shared by every process on the bus: {"args":[...]}.
package codec

import (
	"bytes"
	"encoding/json"
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrDecode is matched by every payload rejected by Decode.
var ErrDecode = stderrors.New("malformed envelope")

// DecodeError describes why a payload was rejected.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return ErrDecode.Error()
	}
	return ErrDecode.Error() + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is allows errors.Is to match DecodeError with ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

type envelope struct {
	Args []any `json:"args"`
}

type rawEnvelope struct {
	Args json.RawMessage `json:"args"`
}

// Encode wraps args in an envelope. The event name only annotates errors.
func Encode(event string, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(envelope{Args: args})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %q", event)
	}
	return data, nil
}

// Decode extracts the argument list from an envelope.
func Decode(payload []byte) ([]any, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Payload: payload, Err: err}
	}
	trimmed := bytes.TrimSpace(raw.Args)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &DecodeError{Payload: payload, Err: stderrors.New("args is not an array")}
	}
	var args []any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, &DecodeError{Payload: payload, Err: err}
	}
	return args, nil
}
