package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palletline/inventory/pkg/health"
	"github.com/palletline/inventory/pkg/httputil"
	"github.com/palletline/inventory/pkg/middleware"
)

const serviceName = "inventory"

// NewRouter creates a chi router with all inventory service routes registered.
// pprofCIDRs guards the debug endpoints; an empty list disables them.
func NewRouter(
	svc InventoryService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	if len(pprofCIDRs) > 0 {
		middleware.RegisterPprof(r, pprofCIDRs, logger)
	}

	handler := NewInventoryHandler(svc, logger)

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Stock operations
		r.Post("/receive", handler.Receive)
		r.Post("/adjust", handler.Adjust)
		r.Post("/transfer", handler.Transfer)
		r.Post("/reserve", handler.Reserve)
		r.Post("/release", handler.Release)
		r.Post("/commit", handler.Commit)

		// Availability reads
		r.Get("/variants/{variantId}/levels", handler.GetVariantLevels)
		r.Get("/products/{productKey}/levels", handler.GetProductLevels)

		// Ledger and alerting
		r.Get("/moves", handler.ListMoves)
		r.Get("/low-stock", handler.ListLowStock)
		r.Put("/variants/{variantId}/warehouses/{warehouseId}/threshold", handler.SetThreshold)
	})

	r.Route("/api/v1/warehouses", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", handler.CreateWarehouse)
		r.Get("/", handler.ListWarehouses)
	})

	return r
}

// ContentTypeJSON rejects write requests whose body is not declared as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
