package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helioslabs/userhub/api/controllers"
	"github.com/helioslabs/userhub/api/middleware"
	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/logger"
)

// NewRouter builds the operator surface: failed-event inspection and replay,
// plus the prometheus scrape endpoint.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	replayService controllers.ReplayService,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/failed-events", func(r chi.Router) {
		r.Get("/", controllers.FailedEventsList(replayService, logg, cfg.Consumer.FailedListLimit))
		r.Get("/stats", controllers.FailedEventsStats(replayService, logg))
		r.Post("/{eventID}/retry", controllers.FailedEventsRetry(replayService, logg))
	})

	return r
}
