package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Kind classifies an upstream failure for the retry policy.
type Kind int

const (
	// KindTransient covers rate limiting, server errors and unexpected 4xx.
	KindTransient Kind = iota
	// KindTransport covers timeouts and connection failures.
	KindTransport
	// KindModelUnavailable means the candidate model does not exist.
	KindModelUnavailable
	// KindCredential means the upstream rejected the API key. Never retried.
	KindCredential
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindCredential:
		return "credential"
	default:
		return "transient"
	}
}

// UpstreamError is a classified failure of one generation attempt.
type UpstreamError struct {
	Kind   Kind
	Status int // 0 for transport errors
	Model  string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s error for model %s (status %d): %v", e.Kind, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s error for model %s: %v", e.Kind, e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ErrCredentialRejected matches any credential-class UpstreamError via errors.Is.
var ErrCredentialRejected = errors.New("upstream rejected credential")

// Is lets errors.Is(err, ErrCredentialRejected) work on classified errors.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrCredentialRejected && e.Kind == KindCredential
}

// ExhaustedError is returned once every candidate and attempt has failed.
type ExhaustedError struct {
	Models     []string
	Attempts   int
	LastStatus int
	Last       error
}

func (e *ExhaustedError) Error() string {
	status := "unavailable"
	if e.LastStatus != 0 {
		status = strconv.Itoa(e.LastStatus)
	}
	return fmt.Sprintf("upstream failed after %d attempts across models [%s]; last status: %s",
		e.Attempts, strings.Join(e.Models, ", "), status)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// classifyStatus maps a non-200 upstream response to an UpstreamError.
func classifyStatus(model string, status int, body []byte) *UpstreamError {
	err := &UpstreamError{Kind: KindTransient, Status: status, Model: model}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 300 {
		snippet = snippet[:300]
	}
	err.Err = fmt.Errorf("%s: %s", http.StatusText(status), snippet)

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		err.Kind = KindCredential
	case status == http.StatusBadRequest && strings.Contains(string(body), "API_KEY_INVALID"):
		err.Kind = KindCredential
	case status == http.StatusNotFound:
		err.Kind = KindModelUnavailable
	}
	return err
}

// haltError marks a failure that must not be retried, such as a stream that
// broke after tokens were already delivered.
type haltError struct {
	err error
}

func (h *haltError) Error() string { return h.err.Error() }
func (h *haltError) Unwrap() error { return h.err }

// Halt wraps err so Policy.Run returns it without further attempts.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &haltError{err: err}
}

// StatusLabel summarises an attempt result for metrics: "ok", the HTTP
// status code, or the failure kind when there is no status.
func StatusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var halt *haltError
	if errors.As(err, &halt) {
		return "interrupted"
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		if upErr.Status != 0 {
			return strconv.Itoa(upErr.Status)
		}
		return upErr.Kind.String()
	}
	return "error"
}
