package relay

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/billing-relay/internal/arm"
	"github.com/vnmchuo/billing-relay/internal/auth"
	"github.com/vnmchuo/billing-relay/pkg/ratelimit"
)

type Handler struct {
	relay               *Relay
	catalog             arm.Catalog
	limiter             *ratelimit.Limiter
	tracer              trace.Tracer
	defaultSubscription string
}

// NewHandler wires the HTTP surface. A nil limiter disables rate limiting.
func NewHandler(relay *Relay, catalog arm.Catalog, limiter *ratelimit.Limiter, tracer trace.Tracer, defaultSubscription string) *Handler {
	return &Handler{
		relay:               relay,
		catalog:             catalog,
		limiter:             limiter,
		tracer:              tracer,
		defaultSubscription: defaultSubscription,
	}
}

func (h *Handler) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, arm.QuerySubscriptions)
}

func (h *Handler) HandleSubscriptionCost(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, arm.QuerySubscriptionCost)
}

func (h *Handler) HandleTenantCost(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, arm.QueryTenantCost)
}

func (h *Handler) HandleDailyCost(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, arm.QueryDailyCost)
}

// HandleQuery serves any catalog variant by name, including ones added
// through QUERY_CATALOG_FILE.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "name"))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, name string) {
	ctx, span := h.tracer.Start(r.Context(), "relay."+name)
	defer span.End()

	requestID := auth.GetRequestID(ctx)
	span.SetAttributes(
		attribute.String("query", name),
		attribute.String("request_id", requestID),
	)

	query, err := h.catalog.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}

	subscriptionID := strings.TrimSpace(r.URL.Query().Get("subscriptionId"))
	if subscriptionID == "" {
		subscriptionID = h.defaultSubscription
	}

	req := Request{
		Query:          query,
		Token:          auth.TokenFrom(ctx),
		SubscriptionID: subscriptionID,
	}

	// Rejected requests never consume quota.
	if h.limiter != nil && Check(req) == nil {
		allowed, err := h.limiter.Allow(ctx, auth.CallerKey(req.Token))
		if err != nil {
			// Limiter errors fail open.
			log.Warn().Err(err).Str("request_id", requestID).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			recordOutcome(name, OutcomeRateLimited)
			span.SetAttributes(attribute.String("outcome", string(OutcomeRateLimited)))
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":       ErrRateLimited.Error(),
				"retry_after": "60s",
			})
			return
		}
	}

	res := h.relay.Do(ctx, req)

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("http.status_code", res.Status),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}

	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res *Result) {
	if res.Raw != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(res.Status)
		_, _ = w.Write(res.Raw)
		return
	}
	writeJSON(w, res.Status, res.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
