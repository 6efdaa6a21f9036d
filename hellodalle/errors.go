package hellodalle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies generation failures so callers can decide whether
// to retry, fall back to the other engine, or fail outright.
type ErrorKind string

const (
	// ErrKindQuota indicates an upstream rate or budget limit was hit.
	// Safe to fall back to the other engine; not safe to immediately
	// retry the same engine.
	ErrKindQuota ErrorKind = "quota_exceeded"

	// ErrKindSafety indicates a content policy rejection. Must not be
	// retried against the same engine with the same prompt; the other
	// engine's policy may differ, so fallback is permitted.
	ErrKindSafety ErrorKind = "safety_rejected"

	// ErrKindInvalidInput indicates a malformed or unreadable local
	// resource (e.g. a missing input image). Not retryable at all.
	ErrKindInvalidInput ErrorKind = "invalid_input"

	// ErrKindProvider covers any other upstream failure - network
	// errors, 5xx responses, malformed response bodies.
	ErrKindProvider ErrorKind = "provider_error"

	// ErrKindTextResponse indicates the provider responded without error
	// but produced text instead of an image. Treated like ErrKindProvider
	// for fallback purposes, but kept distinct for diagnostics.
	ErrKindTextResponse ErrorKind = "text_response"
)

// GenerationError is a typed generation failure carrying the provider
// detail (HTTP status, provider error type/code) needed to distinguish
// content-policy rejections from transient or quota failures.
type GenerationError struct {
	Engine  ImageEngine
	Kind    ErrorKind
	Status  int
	Code    string
	Message string

	wrapped error
}

func (e *GenerationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s", e.Engine, e.Kind))
	if e.Status != 0 {
		sb.WriteString(fmt.Sprintf(" (status: %d", e.Status))
		if e.Code != "" {
			sb.WriteString(fmt.Sprintf(", code: %s", e.Code))
		}
		sb.WriteString(")")
	} else if e.Code != "" {
		sb.WriteString(fmt.Sprintf(" (code: %s)", e.Code))
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

func (e *GenerationError) Unwrap() error {
	return e.wrapped
}

// Is reports kind equality, so callers can match with
// errors.Is(err, &GenerationError{Kind: ErrKindQuota}).
func (e *GenerationError) Is(target error) bool {
	var t *GenerationError
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Engine != "" && t.Engine != e.Engine {
		return false
	}
	return true
}

// FallbackEligible reports whether the failure may be retried once
// against the alternate engine. Invalid local input is never the
// provider's fault, so it's surfaced immediately instead.
func (e *GenerationError) FallbackEligible() bool {
	return e.Kind != ErrKindInvalidInput
}

func newGenerationError(
	engine ImageEngine,
	kind ErrorKind,
	message string,
	wrapped error,
) *GenerationError {
	return &GenerationError{
		Engine:  engine,
		Kind:    kind,
		Message: message,
		wrapped: wrapped,
	}
}

// BothEnginesError reports a generation request that failed on the
// primary engine and again on the fallback. Both failures are retained
// so callers can distinguish a systemic outage from an engine-specific
// one.
type BothEnginesError struct {
	Primary  *GenerationError
	Fallback *GenerationError
}

func (e *BothEnginesError) Error() string {
	return fmt.Sprintf(
		"both engines failed: [%s] / [%s]",
		e.Primary.Error(),
		e.Fallback.Error(),
	)
}

func (e *BothEnginesError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// userFacingError reduces a generation failure to a single
// human-readable message. Provider codes stay in the logs.
func userFacingError(err error) string {
	var both *BothEnginesError
	if errors.As(err, &both) {
		return fmt.Sprintf(
			"both engines failed (%s: %s, %s: %s)",
			both.Primary.Engine,
			both.Primary.Kind,
			both.Fallback.Engine,
			both.Fallback.Kind,
		)
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		switch genErr.Kind {
		case ErrKindSafety:
			return "the prompt was rejected by the engine's safety filters"
		case ErrKindQuota:
			return "the engine's usage quota is exhausted, try again later"
		case ErrKindInvalidInput:
			return "the input image could not be read"
		case ErrKindTextResponse:
			return "the engine replied with text instead of an image"
		default:
			return "the engine failed to generate an image"
		}
	}
	return "something went wrong generating the image"
}
