package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rh "github.com/coreybb/hermes/route-handlers"
	"github.com/coreybb/hermes/webhooks"
	"github.com/coreybb/hermes/webutil"
)

const (
	stripeWebhookPath = "/stripe/webhook"
	downloadPath      = "/download/{token}"
	healthPath        = "/healthz"
	metricsPath       = "/metrics"
)

const requestTimeout = 60 * time.Second

func SetupRoutes(
	webhookHandler *webhooks.StripeWebhookHandler,
	downloadHandler *rh.DownloadHandler,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Post(stripeWebhookPath, webhookHandler.HandleWebhook)
	r.Get(downloadPath, webutil.MakeHandler(downloadHandler.HandleDownload))

	r.Get(healthPath, handleHealthCheck)
	r.Handle(metricsPath, promhttp.Handler())

	return r
}

// handleHealthCheck responds to a health check request.
func handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	webutil.RespondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "hermes"})
}
