package dissect

import (
	"errors"
	"fmt"

	"github.com/mdzio/go-rbus/msgpack"
	"github.com/mdzio/go-rbus/rtmsg"
)

// Errors of the payload decoding stages. Header and decode limit conditions
// use the errors of packages rtmsg and msgpack.
var (
	ErrUnrecognizedValueShape = errors.New("Unrecognized value shape")
	ErrUnmatchedMethodLayout  = errors.New("Unmatched method layout")
	ErrUnknownMethod          = errors.New("Unknown method")
	ErrUndecodablePayload     = errors.New("Undecodable payload")
)

// Severity of a condition.
type Severity int

// Severities.
const (
	Note Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Note:
		return "note"
	case Warn:
		return "warning"
	}
	return "error"
}

// ConditionKind classifies a condition.
type ConditionKind int

// Condition kinds.
const (
	InvalidLength ConditionKind = iota
	MalformedHeader
	TruncatedPayload
	DepthExceeded
	ObjectLimitExceeded
	UnrecognizedValueShape
	UnmatchedMethodLayout
	UnknownMethod
	UndecodablePayload
)

var conditionKinds = [...]struct {
	name     string
	severity Severity
	err      error
}{
	InvalidLength:          {"invalid_length", Error, rtmsg.ErrInvalidLength},
	MalformedHeader:        {"malformed_header", Error, rtmsg.ErrMalformedHeader},
	TruncatedPayload:       {"truncated", Warn, rtmsg.ErrTruncatedPayload},
	DepthExceeded:          {"msgpack_depth_exceeded", Warn, msgpack.ErrDepthExceeded},
	ObjectLimitExceeded:    {"msgpack_object_limit", Warn, msgpack.ErrObjectLimitExceeded},
	UnrecognizedValueShape: {"unrecognized_value", Note, ErrUnrecognizedValueShape},
	UnmatchedMethodLayout:  {"unmatched_layout", Warn, ErrUnmatchedMethodLayout},
	UnknownMethod:          {"unknown_method", Note, ErrUnknownMethod},
	UndecodablePayload:     {"undecodable_payload", Warn, ErrUndecodablePayload},
}

// ConditionKinds lists all kinds.
func ConditionKinds() []ConditionKind {
	ks := make([]ConditionKind, len(conditionKinds))
	for i := range conditionKinds {
		ks[i] = ConditionKind(i)
	}
	return ks
}

// String returns the expert info name, e.g. "invalid_length".
func (k ConditionKind) String() string {
	if int(k) < len(conditionKinds) {
		return conditionKinds[k].name
	}
	return fmt.Sprintf("condition(%d)", int(k))
}

// Abbrev returns the filter abbreviation, e.g. "rbus.invalid_length".
func (k ConditionKind) Abbrev() string {
	return "rbus." + k.String()
}

// Condition is an annotation attached to the decoded tree. Conditions are
// errors and unwrap to the sentinel error of their kind.
type Condition struct {
	Kind     ConditionKind
	Severity Severity
	Msg      string

	// error the condition was made of, if any
	cause error
}

func newCondition(k ConditionKind, format string, args ...interface{}) *Condition {
	return &Condition{Kind: k, Severity: conditionKinds[k].severity, Msg: fmt.Sprintf(format, args...)}
}

// conditionOf maps an error of the framing or decoding stages to a condition.
func conditionOf(err error) *Condition {
	for i, ck := range conditionKinds {
		if errors.Is(err, ck.err) {
			c := newCondition(ConditionKind(i), "%v", err)
			c.cause = err
			return c
		}
	}
	c := newCondition(UndecodablePayload, "%v", err)
	c.cause = err
	return c
}

func (c *Condition) Error() string {
	return c.Msg
}

// Unwrap returns the sentinel error of the kind.
func (c *Condition) Unwrap() error {
	return conditionKinds[c.Kind].err
}
