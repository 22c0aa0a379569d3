package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError rejects a malformed request or a schema failure. No state changes.
type ValidationError struct {
	Field  string   `json:"field,omitempty"`
	Detail string   `json:"detail"`
	Issues []string `json:"issues,omitempty"`
}

func (e *ValidationError) Error() string {
	msg := e.Detail
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Detail)
	}
	if len(e.Issues) > 0 {
		msg += " [" + strings.Join(e.Issues, "; ") + "]"
	}
	return "validation failed: " + msg
}

// NotFoundError reports an unknown work order, snapshot, evidence item or similar.
type NotFoundError struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError reports a request that cannot proceed against the current state.
type ConflictError struct {
	Detail string `json:"detail"`
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Detail
}

// InvalidTransitionError carries the rejected from/to pair.
type InvalidTransitionError struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ReadinessBlockError rejects entry to READY_FOR_RENDER and carries the full
// readiness result so callers can show exactly what is missing.
type ReadinessBlockError struct {
	Readiness Readiness `json:"readiness"`
}

func (e *ReadinessBlockError) Error() string {
	return fmt.Sprintf("work order not ready: score %d, %d missing fields, %d missing evidence",
		e.Readiness.CompletenessScore, len(e.Readiness.MissingFields), len(e.Readiness.MissingEvidence))
}

// UpstreamError wraps a failed collaborator call (billing, rules engine, storage).
type UpstreamError struct {
	Collaborator string
	Err          error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Collaborator, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError unless it already is a domain error.
func Upstream(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &UpstreamError{Collaborator: collaborator, Err: err}
}

// IsDomainError reports whether err belongs to the caller-visible taxonomy.
func IsDomainError(err error) bool {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		it *InvalidTransitionError
		rb *ReadinessBlockError
		ue *UpstreamError
	)
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &ce) ||
		errors.As(err, &it) || errors.As(err, &rb) || errors.As(err, &ue)
}
