package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Server exposes the named reports as a read-only JSON API for dashboards.
type Server struct {
	reader *Reader
	logger *slog.Logger
	router *mux.Router
}

func NewServer(reader *Reader, logger *slog.Logger) *Server {
	s := &Server{reader: reader, logger: logger, router: mux.NewRouter()}

	s.router.Use(corsMiddleware)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/pageviews/ranking", s.handlePageviewRanking).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/weather/latest", s.handleLatestWeather).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/survey/trend", s.handleSurveyTrend).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/survey/filters", s.handleSurveyFilters).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/runs", s.handleRecentRuns).Methods("GET", "OPTIONS")

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("Report server listening on %s", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down report server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.reader.Query(r.Context(), "SELECT 1 AS ok"); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePageviewRanking(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	day := query.Get("day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("day must be YYYY-MM-DD, got %q", day))
		return
	}
	hour, err := strconv.Atoi(query.Get("hour"))
	if err != nil || hour < 0 || hour > 23 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("hour must be between 0 and 23, got %q", query.Get("hour")))
		return
	}

	table, err := s.reader.PageviewRanking(r.Context(), day, hour)
	s.writeTable(w, table, err)
}

func (s *Server) handleLatestWeather(w http.ResponseWriter, r *http.Request) {
	table, err := s.reader.LatestWeather(r.Context())
	s.writeTable(w, table, err)
}

func (s *Server) handleSurveyTrend(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	industry, variable := query.Get("industry"), query.Get("variable")
	if industry == "" || variable == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("industry and variable are required"))
		return
	}

	table, err := s.reader.SurveyTrend(r.Context(), industry, variable)
	s.writeTable(w, table, err)
}

func (s *Server) handleSurveyFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.reader.SurveyFilters(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, filters)
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and 1000, got %q", v))
			return
		}
		limit = n
	}

	table, err := s.reader.RecentRuns(r.Context(), limit)
	s.writeTable(w, table, err)
}

func (s *Server) writeTable(w http.ResponseWriter, table *Table, err error) {
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, table)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Report request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}
