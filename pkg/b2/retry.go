package b2

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy controls how every request made by Client is retried.
// MaxRetries is the total number of attempts, not the number of retries after the first.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy returns three attempts with a one second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: time.Second}
}

// Wait returns the pause before the given 1-indexed retry: Delay * attempt.
// There is no jitter and no cap.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.Delay * time.Duration(attempt)
}

// Attempts returns the number of tries a call gets, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

func (p RetryPolicy) apply(c *retryablehttp.Client) {
	c.RetryMax = p.Attempts() - 1
	c.RetryWaitMin = p.Delay
	c.RetryWaitMax = p.Wait(p.Attempts())
	// retryablehttp counts attempts from zero
	c.Backoff = func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return p.Wait(attemptNum + 1)
	}
	c.CheckRetry = retryAnyFailure
	// Hand the last response back so the service's error document can be decoded.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
}

// retryAnyFailure makes no distinction between error classes: every transport
// error and every non-2xx status is retried. Only a finished context stops it.
func retryAnyFailure(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= http.StatusBadRequest, nil
}
