package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when a session is started with a bad configuration.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrInvalidAnswerIndex indicates a submitted option index is out of range.
	ErrInvalidAnswerIndex = errors.New("invalid answer index")
	// ErrInvalidDuration is returned when a timer is started with a non-positive duration.
	ErrInvalidDuration = errors.New("invalid timer duration")
	// ErrProviderUnavailable means the content provider could not be reached or refused the request.
	ErrProviderUnavailable = errors.New("content provider unavailable")
	// ErrProviderTimeout means the content provider did not answer in time.
	ErrProviderTimeout = errors.New("content provider timed out")
	// ErrMalformedResponse means the provider answered with content that failed validation.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrGenerationFailed wraps any failure to obtain the next question.
	ErrGenerationFailed = errors.New("question generation failed")

	// ErrInvalidState is returned when an intent is not valid in the current session state.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrFetchInProgress is returned when a question fetch is already running.
	ErrFetchInProgress = errors.New("question fetch already in progress")
	// ErrStaleResult is returned when an async result arrived after the session moved on.
	ErrStaleResult = errors.New("result discarded: session changed while waiting")
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("quiz session not found")
)

func invalidConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// KindOf maps an error to its taxonomy name, most specific first.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	case errors.Is(err, ErrInvalidAnswerIndex):
		return "InvalidAnswerIndex"
	case errors.Is(err, ErrInvalidDuration):
		return "InvalidDuration"
	case errors.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case errors.Is(err, ErrProviderTimeout):
		return "ProviderTimeout"
	case errors.Is(err, ErrProviderUnavailable):
		return "ProviderUnavailable"
	case errors.Is(err, ErrGenerationFailed):
		return "GenerationFailed"
	case errors.Is(err, ErrFetchInProgress):
		return "FetchInProgress"
	case errors.Is(err, ErrStaleResult):
		return "StaleResult"
	case errors.Is(err, ErrSessionNotFound):
		return "SessionNotFound"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	default:
		return "Internal"
	}
}
