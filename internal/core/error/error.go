package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"

	// RestrictedTopicMessage is shown when the guardrail rejects a query.
	RestrictedTopicMessage = "🚫 This query is restricted or off-topic. " +
		"I can help with RFIs, submittals, drawings, calculations, project knowledge, " +
		"or building code questions."
	// ClassificationFailureMessage is shown when the query could not be classified.
	ClassificationFailureMessage = "Sorry, I could not understand that request. Please rephrase it and try again."
	// NotFoundMessage is the fixed sentinel for retrieval with zero hits.
	NotFoundMessage = "No relevant documents found for this question."
	// UpstreamFailureMessage is shown when an external service call fails.
	UpstreamFailureMessage = "A required service is unavailable right now. Please try again later."
	// SynthesisFailureMessage is shown when the final answer could not be produced.
	SynthesisFailureMessage = "Sorry, I could not produce an answer for this question. Please try again."
	// FallbackMessage is used by the responder when no answer or error was produced.
	FallbackMessage = "⚠️ Something went wrong. Please try again later."
)

// Kind classifies pipeline failures. Every kind except the zero value is
// recoverable in-band: the router routes it to the responder.
type Kind string

const (
	KindNone                     Kind = ""
	KindRejectedInput            Kind = "rejected_input"
	KindClassificationFailure    Kind = "classification_failure"
	KindRetrievalEmpty           Kind = "retrieval_empty"
	KindGenerationExecutionFault Kind = "generation_execution_fault"
	KindSynthesisFailure         Kind = "synthesis_failure"
	KindUpstreamFailure          Kind = "upstream_failure"
)

// AppError wraps an underlying error with an HTTP status, a safe message and a kind.
type AppError struct {
	Err     error
	Status  int
	Message string
	Kind    Kind
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Rejected reports a guardrail denial. It is user-visible and not a system fault.
func Rejected(reason string) *AppError {
	var err error
	if reason != "" {
		err = errors.New(reason)
	}
	return &AppError{Err: err, Status: http.StatusForbidden, Message: RestrictedTopicMessage, Kind: KindRejectedInput}
}

// Classification reports a structured-output failure while classifying a query.
func Classification(err error) *AppError {
	return &AppError{Err: err, Status: http.StatusUnprocessableEntity, Message: ClassificationFailureMessage, Kind: KindClassificationFailure}
}

// RetrievalEmpty reports a search that produced zero hits.
func RetrievalEmpty() *AppError {
	return &AppError{Status: http.StatusNotFound, Message: NotFoundMessage, Kind: KindRetrievalEmpty}
}

// Upstream reports a failed call to an external collaborator.
func Upstream(err error) *AppError {
	return &AppError{Err: err, Status: http.StatusBadGateway, Message: UpstreamFailureMessage, Kind: KindUpstreamFailure}
}

// Synthesis reports a final answer that failed validation even after repair.
func Synthesis(err error) *AppError {
	return &AppError{Err: err, Status: http.StatusBadGateway, Message: SynthesisFailureMessage, Kind: KindSynthesisFailure}
}

// KindOf returns the Kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindNone
}

// Is reports whether the target matches the underlying error.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}
