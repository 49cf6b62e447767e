package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures surfaced to the user.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindMissingReference    ErrorKind = "missing_reference_image"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstreamError       ErrorKind = "upstream_error"
)

// Upstream error codes shared by the gateway envelope and the orchestrator.
const (
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamRejected    = "UPSTREAM_REJECTED"
	CodeMissingReference    = "MISSING_REFERENCE_IMAGE"
	CodeUnknown             = "UNKNOWN"
)

var (
	// ErrMissingReferenceImage is returned when an animation frame is
	// requested without a reference image.
	ErrMissingReferenceImage = errors.New("base image is required for animation frame generation")

	// ErrUpstreamUnavailable means the model credential is not configured.
	ErrUpstreamUnavailable = errors.New("upstream credentials not configured")

	// ErrBusy is returned when a command arrives while a generation call is
	// in flight.
	ErrBusy = errors.New("a generation request is already in flight")
)

// ValidationError blocks a stage advance before any request is issued.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid setup"
	}
	names := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		names = append(names, f+" ("+tag+")")
	}
	sort.Strings(names)
	return "invalid setup: " + strings.Join(names, ", ")
}

// UpstreamError is any generation failure other than missing credentials.
type UpstreamError struct {
	Code    string
	Status  int
	Message string
	Details string
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Status != 0 {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, msg)
	}
	return "upstream error: " + msg
}

// TransitionError rejects a command that the current stage does not allow.
type TransitionError struct {
	From   Stage
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from stage %q", e.Action, e.From)
}

// StageError is the error stored on a Session, scoped to one stage.
type StageError struct {
	Stage     Stage     `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Classify maps an error onto the user-facing taxonomy.
func Classify(err error) ErrorKind {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrMissingReferenceImage):
		return KindMissingReference
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	}
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		switch uerr.Code {
		case CodeUpstreamUnavailable:
			return KindUpstreamUnavailable
		case CodeMissingReference:
			return KindMissingReference
		}
	}
	return KindUpstreamError
}

// CodeOf returns the envelope code for err.
func CodeOf(err error) string {
	var uerr *UpstreamError
	if errors.As(err, &uerr) && uerr.Code != "" {
		return uerr.Code
	}
	switch Classify(err) {
	case KindUpstreamUnavailable:
		return CodeUpstreamUnavailable
	case KindMissingReference:
		return CodeMissingReference
	}
	return CodeUnknown
}

func newStageError(stage Stage, err error) *StageError {
	kind := Classify(err)
	se := &StageError{
		Stage:     stage,
		Kind:      kind,
		Code:      CodeOf(err),
		Details:   err.Error(),
		Retryable: kind == KindUpstreamError,
	}
	switch stage {
	case StageScene:
		se.Message = "There was an error creating your study scene"
	case StageAnimation:
		se.Message = "There was an error creating your animation frames"
	case StageMusic:
		se.Message = musicErrorMessage(err)
	default:
		se.Message = err.Error()
	}
	return se
}

func musicErrorMessage(err error) string {
	if Classify(err) == KindUpstreamUnavailable {
		return "Please configure your ElevenLabs API key in Project Settings"
	}
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		text := uerr.Message + " " + uerr.Details
		if uerr.Status == 402 || strings.Contains(text, "limited_access") || strings.Contains(text, "402") {
			return "Music API requires a paid ElevenLabs plan. You can skip music generation to continue."
		}
	}
	return "There was an error creating your lo-fi session"
}
