package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vnmchuo/billing-relay/internal/arm"
	"github.com/vnmchuo/billing-relay/internal/auth"
)

const (
	NoCostDataMessage = "No cost data found for the current month."

	// bodySnippetBytes bounds how much of an upstream body reaches the logs.
	bodySnippetBytes = 256
)

// Upstream performs exactly one ARM call.
type Upstream interface {
	Do(ctx context.Context, q *arm.Query, token auth.Token, subscriptionID string) (*arm.Response, error)
}

type Request struct {
	Query          *arm.Query
	Token          auth.Token
	SubscriptionID string
}

// Result is what the caller receives. Raw, when set, is written verbatim;
// otherwise Body is JSON-encoded.
type Result struct {
	Status  int
	Outcome Outcome
	Body    any
	Raw     []byte
	Err     error
}

type Relay struct {
	upstream Upstream
}

func New(upstream Upstream) *Relay {
	return &Relay{upstream: upstream}
}

// Do runs one relay pass. It never returns nil and never panics; every
// failure is mapped onto a Result.
func (r *Relay) Do(ctx context.Context, req Request) (res *Result) {
	logger := requestLogger(ctx, req)

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("relay panicked")
			res = internalError(fmt.Errorf("unexpected fault: %v", p))
		}
		recordOutcome(queryName(req.Query), res.Outcome)
	}()

	if rejected := Check(req); rejected != nil {
		return rejected
	}

	start := time.Now()
	resp, err := r.upstream.Do(ctx, req.Query, req.Token, req.SubscriptionID)
	recordUpstreamDuration(req.Query.Name, time.Since(start))
	if err != nil {
		logger.Error().Err(err).Msg("upstream call failed")
		return internalError(err)
	}

	logger.Info().Int("upstream_status", resp.StatusCode).Int("upstream_bytes", len(resp.Body)).Msg("upstream responded")

	if !resp.OK() {
		logger.Error().
			Int("upstream_status", resp.StatusCode).
			Str("upstream_body", snippet(resp.Body)).
			Msg("azure api returned an error")
		return upstreamError(newUpstreamError(resp.StatusCode, resp.Body))
	}

	switch req.Query.Shape {
	case arm.ShapeSubscriptions:
		return shapeSubscriptions(resp.Body)
	case arm.ShapeDaily:
		return shapeDaily(logger, resp.Body)
	default:
		return shapePassthrough(logger, req.Query, resp.Body)
	}
}

// Check returns the Result for a request that must not reach the upstream,
// or nil when the request is well-formed.
func Check(req Request) *Result {
	if req.Token == "" {
		return &Result{
			Status:  http.StatusUnauthorized,
			Outcome: OutcomeMissingCredential,
			Body:    errorBody{Error: auth.MissingCredentialMessage},
			Err:     auth.ErrMissingCredential,
		}
	}
	if req.Query == nil {
		return internalError(errors.New("no query variant selected"))
	}
	if req.Query.NeedsSubscription() {
		if err := validateSubscription(req.SubscriptionID); err != nil {
			return invalidRequest(err)
		}
	}
	return nil
}

func validateSubscription(id string) error {
	if id == "" {
		return fmt.Errorf("%w: subscriptionId is required", ErrInvalidInput)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: subscriptionId %q is not a valid subscription id", ErrInvalidInput, id)
	}
	return nil
}

func success(body any) *Result {
	return &Result{Status: http.StatusOK, Outcome: OutcomeSuccess, Body: body}
}

func internalError(err error) *Result {
	return &Result{
		Status:  http.StatusInternalServerError,
		Outcome: OutcomeInternalError,
		Body:    errorBody{Error: err.Error()},
		Err:     err,
	}
}

func malformed(err error) *Result {
	return &Result{
		Status:  http.StatusInternalServerError,
		Outcome: OutcomeInternalError,
		Body:    errorBody{Error: "Failed to parse Azure response"},
		Err:     fmt.Errorf("%w: %v", ErrMalformedUpstream, err),
	}
}

func invalidRequest(err error) *Result {
	return &Result{
		Status:  http.StatusBadRequest,
		Outcome: OutcomeInvalidRequest,
		Body:    errorBody{Error: err.Error()},
		Err:     err,
	}
}

func upstreamError(e *UpstreamError) *Result {
	status := e.StatusCode
	if status < http.StatusBadRequest {
		// 1xx/3xx cannot carry an error body to the caller.
		status = http.StatusBadGateway
	}
	return &Result{
		Status:  status,
		Outcome: OutcomeUpstreamError,
		Body:    errorBody{Error: e.Message, Code: e.Code},
		Err:     e,
	}
}

func requestLogger(ctx context.Context, req Request) zerolog.Logger {
	lc := log.With().Str("query", queryName(req.Query))
	if id := auth.GetRequestID(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	return lc.Logger()
}

func queryName(q *arm.Query) string {
	if q == nil {
		return ""
	}
	return q.Name
}

func snippet(body []byte) string {
	if len(body) > bodySnippetBytes {
		return string(body[:bodySnippetBytes]) + "..."
	}
	return string(body)
}
