package fetch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/blockclass/marketview/internal/domain"
)

// ErrExhausted marks a fatal outcome produced by running out of attempts.
var ErrExhausted = errors.New("fetch: attempts exhausted")

// Kind classifies a single attempt or the overall result of Fetch.
type Kind int

const (
	Success Kind = iota
	RetryableFailure
	FatalFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case FatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a fetch. Body is set only on Success; Err
// is set on both failure kinds. Status is 0 when no response was received.
type Outcome struct {
	Kind     Kind
	Body     []byte
	Status   int
	Err      error
	Attempts int
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Kind == Success }

func succeeded(status int, body []byte) Outcome {
	return Outcome{Kind: Success, Status: status, Body: body}
}

func retryable(status int, err error) Outcome {
	return Outcome{Kind: RetryableFailure, Status: status, Err: err}
}

func fatal(status int, err error) Outcome {
	return Outcome{Kind: FatalFailure, Status: status, Err: err}
}

// classifyStatus maps a non-2xx HTTP status onto an outcome. 429 and 5xx are
// retryable; every other status is a permanent request error.
func classifyStatus(status int, body []byte) Outcome {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	switch {
	case status == http.StatusTooManyRequests:
		return retryable(status, fmt.Errorf("%w: %w: HTTP %d", domain.ErrTransient, domain.ErrRateLimited, status))
	case status >= 500:
		return retryable(status, fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, status, snippet))
	case status == http.StatusNotFound:
		return fatal(status, fmt.Errorf("%w: %w: HTTP %d", domain.ErrPermanent, domain.ErrNotFound, status))
	default:
		return fatal(status, fmt.Errorf("%w: HTTP %d: %s", domain.ErrPermanent, status, snippet))
	}
}
