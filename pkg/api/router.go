package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/api/handlers"
	"github.com/marmos91/dittonn/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout on health and admin routes (image transfers are
//     bounded by the server's read/write timeouts instead)
//
// Routes:
//   - GET  /health, /health/ready
//   - POST /checkpoint/roll
//   - GET  /checkpoint/image, /checkpoint/edits
//   - PUT  /checkpoint/image
//   - POST /checkpoint/adopt
//   - GET  /admin/status, GET|PUT /admin/safemode
//   - POST /admin/save-namespace, /admin/restore
//   - GET  /metrics when metrics are enabled
func NewRouter(nn handlers.Namenode) http.Handler {
	return newRouter(nn, 0)
}

func newRouter(nn handlers.Namenode, maxImageSize int64) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(nn)
	r.Route("/health", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if metrics.IsEnabled() {
		r.Handle("/metrics", metrics.Handler())
	}

	if nn != nil {
		ckpt := handlers.NewCheckpointHandler(nn)
		ckpt.MaxImageSize = maxImageSize
		r.Route("/checkpoint", func(r chi.Router) {
			r.Post("/roll", ckpt.Roll)
			r.Get("/image", ckpt.GetImage)
			r.Put("/image", ckpt.PutImage)
			r.Get("/edits", ckpt.GetEdits)
			r.Post("/adopt", ckpt.Adopt)
		})

		admin := handlers.NewAdminHandler(nn)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))
			r.Get("/status", admin.Status)
			r.Get("/safemode", admin.GetSafeMode)
			r.Put("/safemode", admin.SetSafeMode)
			r.Post("/save-namespace", admin.SaveNamespace)
			r.Post("/restore", admin.Restore)
		})
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
