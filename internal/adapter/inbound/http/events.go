package http

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/complyflow/complyflow/internal/domain/auth"
	"github.com/complyflow/complyflow/internal/domain/event"
	"github.com/complyflow/complyflow/internal/service"
)

// maxEventBodySize limits an event envelope to 1MB.
const maxEventBodySize = 1 << 20

// Publisher hands events to the rule engine. *service.EventBus and
// *service.TenantQuota implement it.
type Publisher = service.EventPublisher

// acceptedResponse is returned for asynchronously published events.
type acceptedResponse struct {
	EventID  string `json:"event_id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}

// eventsHandler serves POST /api/v1/events.
func (s *Server) eventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := LoggerFromContext(r.Context())

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.metrics.ingested("rejected")
				writeError(w, http.StatusRequestEntityTooLarge, "event too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		ev, err := event.Decode(body)
		if err != nil {
			s.metrics.ingested("rejected")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if id := auth.IdentityFrom(r.Context()); id != nil {
			if !id.HasAnyRole(auth.RoleIngest, auth.RoleAdmin) {
				s.metrics.ingested("unauthorized")
				writeError(w, http.StatusForbidden, "key may not publish events")
				return
			}
			if !id.CanAccessTenant(ev.TenantID) {
				s.metrics.ingested("unauthorized")
				writeError(w, http.StatusForbidden, "key may not publish events for tenant "+ev.TenantID)
				return
			}
		}

		logger = logger.With("event", ev.ID, "event_type", ev.Type, "tenant", ev.TenantID)

		if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
			outcome, err := s.publisher.PublishSync(r.Context(), ev)
			if err != nil {
				if s.writeThrottled(w, err) {
					return
				}
				s.metrics.ingested("failed")
				logger.Error("synchronous event pass failed", "error", err)
				writeError(w, statusForPublishError(err), err.Error())
				return
			}
			s.metrics.ingested("processed")
			writeJSON(w, http.StatusOK, outcome)
			return
		}

		if err := s.publisher.Publish(r.Context(), ev); err != nil {
			if s.writeThrottled(w, err) {
				return
			}
			s.metrics.ingested("dropped")
			logger.Warn("event not published", "error", err)
			writeError(w, statusForPublishError(err), err.Error())
			return
		}
		s.metrics.ingested("accepted")
		logger.Debug("event accepted")
		writeJSON(w, http.StatusAccepted, acceptedResponse{EventID: ev.ID, TenantID: ev.TenantID, Status: "accepted"})
	})
}

// writeThrottled answers 429 with Retry-After when err is a quota refusal.
func (s *Server) writeThrottled(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, service.ErrRateLimited) {
		return false
	}
	retryAfter := 1
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		retryAfter = max(1, int(math.Ceil(rle.RetryAfter.Seconds())))
	}
	s.metrics.ingested("throttled")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, err.Error())
	return true
}

func statusForPublishError(err error) int {
	switch {
	case errors.Is(err, event.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrEventDropped),
		errors.Is(err, service.ErrBusStopped),
		errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
