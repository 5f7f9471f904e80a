package twitchinfra

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"zhatRelay/internal/domain"
)

// classifyStatus maps a non-success HTTP status to a poll error. Auth and
// missing-resource rejections are permanent; throttling and server faults
// are retried.
func classifyStatus(feature string, status int, detail string) error {
	err := fmt.Errorf("status %d: %s", status, detail)
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return &domain.TransientPollError{Feature: feature, StatusCode: status, Err: err}
	default:
		return &domain.FatalPollError{Feature: feature, StatusCode: status, Err: err}
	}
}

// classifyTransport wraps a request that never produced a status. Caller
// cancellation is passed through untouched.
func classifyTransport(ctx context.Context, feature string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return &domain.TransientPollError{Feature: feature, Err: err}
}
