// Package inference sends an image to an external vision completion API.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/example/oralscan/internal/intake"
)

// Client exposes the subset of functionality used by the analysis flow.
type Client interface {
	// Complete returns the raw completion text for img.
	Complete(ctx context.Context, img *intake.Image) (string, error)
}

// Kind classifies inference failures for retry and status mapping.
type Kind int

const (
	// KindUpstream is a provider-side failure (5xx, 429, unexpected payload).
	KindUpstream Kind = iota
	// KindNetwork is a transport failure; retryable.
	KindNetwork
	// KindRejected means the provider refused the input (4xx).
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	default:
		return "upstream"
	}
}

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("empty completion")

// Error is a classified inference failure.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s inference %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s inference %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, KindUpstream when unclassified.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	if isNetworkError(err) {
		return KindNetwork
	}
	return KindUpstream
}

// IsRetryable reports whether a failed call may be attempted again.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}

// kindForStatus maps a provider HTTP status to a Kind.
func kindForStatus(status int) Kind {
	switch {
	case status == 0:
		return KindNetwork
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return KindUpstream
	case status >= 400 && status < 500:
		return KindRejected
	default:
		return KindUpstream
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
