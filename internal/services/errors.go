package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for classifying phase failures. Stage code wraps its
// errors with one of these via Wrap; the orchestrator maps the marker to the
// reason code persisted on the failed task.
var (
	ErrNotFound     = errors.New("video not found")
	ErrTooLong      = errors.New("video exceeds duration ceiling")
	ErrTooLarge     = errors.New("audio exceeds size ceiling")
	ErrNetwork      = errors.New("network failure")
	ErrUnavailable  = errors.New("video unavailable")
	ErrTimeout      = errors.New("timeout")
	ErrModelFailure = errors.New("model failure")
	ErrEmptyOutput  = errors.New("empty transcript")
	ErrPersistence  = errors.New("persistence failure")
	ErrValidation   = errors.New("validation error")
	ErrConfig       = errors.New("configuration error")
	ErrTransient    = errors.New("transient failure")
)

// Reason codes stored on failed tasks and surfaced by the CLI/API.
const (
	ReasonNotFound     = "not_found"
	ReasonTooLong      = "too_long"
	ReasonTooLarge     = "too_large"
	ReasonNetwork      = "network_failure"
	ReasonUnavailable  = "unavailable"
	ReasonTimeout      = "timeout"
	ReasonModelFailure = "model_failure"
	ReasonEmptyOutput  = "empty_output"
	ReasonPersistence  = "persistence_failure"
	ReasonError        = "error"
)

// Wrap builds an error message that includes phase context while tagging it
// with the provided marker for later reason classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ReasonCode maps a phase error to the reason code the orchestrator persists
// on the failed task.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrTooLong):
		return ReasonTooLong
	case errors.Is(err, ErrTooLarge):
		return ReasonTooLarge
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrNetwork):
		return ReasonNetwork
	case errors.Is(err, ErrUnavailable):
		return ReasonUnavailable
	case errors.Is(err, ErrModelFailure):
		return ReasonModelFailure
	case errors.Is(err, ErrEmptyOutput):
		return ReasonEmptyOutput
	case errors.Is(err, ErrPersistence):
		return ReasonPersistence
	default:
		return ReasonError
	}
}

// Retryable reports whether a failure is worth another attempt within the
// same pipeline run. Only transient network trouble qualifies; policy
// rejections and tool failures are final for the attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTransient)
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
