package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code classifies a planning failure.
type Code string

const (
	CodeCapacityViolation       Code = "CAPACITY_VIOLATION"
	CodeHaltNotSatisfied        Code = "HALT_NOT_SATISFIED"
	CodeOverrideInfeasible      Code = "OVERRIDE_INFEASIBLE"
	CodeNoFeasiblePlan          Code = "NO_FEASIBLE_PLAN"
	CodePlanTimeout             Code = "PLAN_TIMEOUT"
	CodeUpstreamFeedUnavailable Code = "UPSTREAM_FEED_UNAVAILABLE"
)

// Error is a planning failure. Errors with the same Code match under
// errors.Is, so callers can compare against the sentinels below.
type Error struct {
	Code     Code
	TrainID  string
	Resource string
	Msg      string
	Err      error
}

var (
	ErrCapacityViolation       = &Error{Code: CodeCapacityViolation}
	ErrHaltNotSatisfied        = &Error{Code: CodeHaltNotSatisfied}
	ErrOverrideInfeasible      = &Error{Code: CodeOverrideInfeasible}
	ErrNoFeasiblePlan          = &Error{Code: CodeNoFeasiblePlan}
	ErrPlanTimeout             = &Error{Code: CodePlanTimeout}
	ErrUpstreamFeedUnavailable = &Error{Code: CodeUpstreamFeedUnavailable}
)

// NewError builds an Error with a formatted message.
func NewError(code Code, trainID, resource, format string, args ...any) *Error {
	return &Error{Code: code, TrainID: trainID, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.TrainID != "" {
		b.WriteString(" train=" + e.TrainID)
	}
	if e.Resource != "" {
		b.WriteString(" resource=" + e.Resource)
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON renders the violation the way API clients consume it.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code     Code   `json:"code"`
		TrainID  string `json:"train_id,omitempty"`
		Resource string `json:"resource,omitempty"`
		Message  string `json:"message"`
	}{e.Code, e.TrainID, e.Resource, e.Msg})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Error) UnmarshalJSON(b []byte) error {
	var raw struct {
		Code     Code   `json:"code"`
		TrainID  string `json:"train_id"`
		Resource string `json:"resource"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Error{Code: raw.Code, TrainID: raw.TrainID, Resource: raw.Resource, Msg: raw.Message}
	return nil
}

// CodeOf returns the taxonomy code of err, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
