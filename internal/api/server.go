package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/internal/cache"
	"github.com/jgoulah/pseusage/internal/metrics"
	"github.com/jgoulah/pseusage/pkg/models"
)

// Response statuses
const (
	StatusOK           = "OK"
	StatusNotAvailable = "NOT_AVAILABLE"
	StatusNoData       = "NO_DATA"
)

const (
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
)

// Response is the body of every read API answer
type Response struct {
	Status          string       `json:"status"`
	Data            *LatestUsage `json:"data,omitempty"`
	UpdateTimestamp *time.Time   `json:"update_timestamp,omitempty"`
}

// LatestUsage is the most recent complete day of a commodity
type LatestUsage struct {
	Usage             float64                  `json:"usage"`
	Date              models.Date              `json:"date"`
	UnitOfMeasurement models.UnitOfMeasurement `json:"unit_of_measurement"`
}

// Server answers read queries against the cache
type Server struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewServer creates the read API. m may be nil.
func NewServer(c *cache.Cache, m *metrics.Metrics, logger *logrus.Logger) *Server {
	return &Server{cache: c, metrics: m, logger: logger}
}

// NewRouter returns the API routes
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID)

	r.HandleFunc("/", s.statusHandler).Methods("GET")
	r.HandleFunc("/electricity/latest", s.latestHandler(models.Electricity)).Methods("GET")
	r.HandleFunc("/natural_gas/latest", s.latestHandler(models.NaturalGas)).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	return r
}

// Handler returns the routes wrapped with access logging to w
func (s *Server) Handler(w io.Writer) http.Handler {
	return handlers.LoggingHandler(w, s.NewRouter())
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	accessLog := s.logger.WriterLevel(logrus.InfoLevel)
	defer accessLog.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(accessLog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", addr).Info("Starting web server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := Response{Status: StatusNotAvailable}
	if _, ok := s.cache.Read(); ok {
		resp.Status = StatusOK
	}
	s.respond(w, r, resp)
}

func (s *Server) latestHandler(commodity models.Commodity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, latestResponse(s.cache, commodity))
	}
}

// latestResponse builds the answer for the most recent complete day of a commodity
func latestResponse(c *cache.Cache, commodity models.Commodity) Response {
	usage, ok := c.Read()
	if !ok {
		return Response{Status: StatusNotAvailable}
	}

	latest, ok := models.LatestCompleteDay(usage.Records(commodity))
	if !ok {
		return Response{Status: StatusNoData}
	}

	updated := usage.UpdateTimestamp
	return Response{
		Status: StatusOK,
		Data: &LatestUsage{
			Usage:             latest.Value,
			Date:              latest.Date,
			UnitOfMeasurement: latest.Unit,
		},
		UpdateTimestamp: &updated,
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, resp Response) {
	route := r.URL.Path
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			route = tmpl
		}
	}
	s.metrics.APIRequest(route, resp.Status)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"route":      route,
			"request_id": w.Header().Get(requestIDHeader),
		}).Error("Failed to write response")
	}
}

// requestID tags every response with the caller's request ID or a new one
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
