package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helioslabs/userhub/api/responses"
	"github.com/helioslabs/userhub/internal/events"
	"github.com/helioslabs/userhub/pkg/db/models"
	pkgerrors "github.com/helioslabs/userhub/pkg/errors"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/types"
)

// ReplayService is the surface the failed-event endpoints need.
type ReplayService interface {
	List(ctx context.Context, limit int) ([]models.FailedEvent, error)
	Retry(ctx context.Context, eventID string) error
	Stats(ctx context.Context) (*events.Stats, error)
}

// FailedEventsList returns the most recently dead-lettered events.
func FailedEventsList(svc ReplayService, logg *logger.Logger, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := defaultLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "limit must be an integer"))
				return
			}
			limit = parsed
		}

		rows, err := svc.List(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		summaries := make([]types.FailedEventSummary, 0, len(rows))
		for _, row := range rows {
			summaries = append(summaries, failedEventSummary(row))
		}
		responses.WriteSuccess(w, map[string]any{"failedEvents": summaries})
	}
}

// FailedEventsRetry replays one dead-lettered event by its event ID.
func FailedEventsRetry(svc ReplayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id is required"))
			return
		}

		if err := svc.Retry(ctx, eventID); err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			// The retry ran and failed; the row is untouched and can be
			// retried again. Report that as an outcome, not a server error.
			responses.WriteSuccess(w, types.RetryResult{
				Success: false,
				Message: err.Error(),
				EventID: eventID,
			})
			return
		}

		responses.WriteSuccess(w, types.RetryResult{
			Success: true,
			Message: "event replayed",
			EventID: eventID,
		})
	}
}

// FailedEventsStats summarizes processed and stuck counts.
func FailedEventsStats(svc ReplayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		stats, err := svc.Stats(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func failedEventSummary(row models.FailedEvent) types.FailedEventSummary {
	summary := types.FailedEventSummary{
		EventID:      row.EventID,
		EventType:    string(row.EventType),
		Topic:        row.Topic,
		Partition:    row.Partition,
		Offset:       row.Offset,
		ErrorMessage: row.ErrorMessage,
		FailedAt:     row.FailedAt.UTC().Format(time.RFC3339Nano),
		RetryCount:   row.RetryCount,
		Status:       string(row.Status),
	}
	if row.LastRetryAt != nil {
		at := row.LastRetryAt.UTC().Format(time.RFC3339Nano)
		summary.LastRetryAt = &at
	}
	return summary
}
