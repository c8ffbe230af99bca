// Package api serves the Mini App front-end: a JSON API over per-user
// nutrition ledgers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pcrpg2df4s-blip/dietweb/internal/estimator"
	"github.com/pcrpg2df4s-blip/dietweb/internal/logging"
	"github.com/pcrpg2df4s-blip/dietweb/internal/provider/openfoodfacts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// UserHeader carries the Telegram user id set by the Mini App.
const UserHeader = "X-Telegram-User-ID"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Options struct {
	Estimator      estimator.Estimator
	Tips           estimator.TipSource
	Barcodes       openfoodfacts.Lookup
	Logger         logging.Logger
	AllowedOrigins []string
	MaxUploadBytes int64
	Tolerance      float64
	Now            func() time.Time
}

type Server struct {
	registry  *Registry
	estimator estimator.Estimator
	tips      estimator.TipSource
	barcodes  openfoodfacts.Lookup
	log       logging.Logger
	origins   []string
	maxUpload int64
	tolerance float64
	now       func() time.Time
}

func NewServer(reg *Registry, opts Options) *Server {
	s := &Server{
		registry:  reg,
		estimator: opts.Estimator,
		tips:      opts.Tips,
		barcodes:  opts.Barcodes,
		log:       opts.Logger,
		origins:   opts.AllowedOrigins,
		maxUpload: opts.MaxUploadBytes,
		tolerance: opts.Tolerance,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 8 << 20
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/state", s.handleState)
		r.Put("/profile", s.handleSetProfile)
		r.Post("/food", s.handleRecordFood)
		r.Post("/food/estimate", s.handleEstimateFood)
		r.Post("/food/barcode", s.handleBarcodeFood)
		r.Put("/food/{id}", s.handleEditFood)
		r.Delete("/food/{id}", s.handleDeleteFood)
		r.Get("/history", s.handleHistory)
		r.Get("/tips", s.handleTips)
		r.Get("/export", s.handleExport)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", UserHeader},
	})
	return c.Handler(r)
}

type ctxKey struct{}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if !userIDPattern.MatchString(id) {
			writeError(w, http.StatusUnauthorized, "missing or invalid "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
