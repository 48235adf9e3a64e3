// Package dashboard serves a read-only HTTP and WebSocket view of the bot.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// Engine is the live view the dashboard reads. All methods return copies.
type Engine interface {
	OpenPositions() []*models.Position
	RiskSnapshot() risk.State
	Halted() bool
}

// Config configures the HTTP listener.
type Config struct {
	AuthToken string
	Port      int
}

// Server is the dashboard HTTP server. Without an Engine it falls back to
// the open positions recorded in storage.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	engine    Engine
	hub       *Hub
	logger    *logrus.Logger
	now       func() time.Time
	authToken string
	port      int
}

// PositionView is the JSON shape of one open position.
type PositionView struct {
	EntryDate     time.Time `json:"entry_date"`
	Expiration    time.Time `json:"expiration"`
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	State         string    `json:"state"`
	ExitReason    string    `json:"exit_reason,omitempty"`
	ShortPut      float64   `json:"short_put"`
	LongPut       float64   `json:"long_put"`
	ShortCall     float64   `json:"short_call"`
	LongCall      float64   `json:"long_call"`
	EntryCredit   float64   `json:"entry_credit"`
	CurrentValue  float64   `json:"current_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	ProfitPercent float64   `json:"profit_pct"`
	MaxRisk       float64   `json:"max_risk"`
	DTE           int       `json:"dte"`
	Quantity      int       `json:"quantity"`
}

// StatsView combines persisted trade statistics with the live risk state.
type StatsView struct {
	Trades *storage.Statistics `json:"trades"`
	Risk   *risk.State         `json:"risk,omitempty"`
	Open   int                 `json:"open_positions"`
	Halted bool                `json:"halted"`
}

// NewServer creates a Server. engine may be nil.
func NewServer(cfg Config, store storage.Interface, engine Engine, logger *logrus.Logger) *Server {
	logger = logging.OrDiscard(logger)
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		engine:    engine,
		hub:       NewHub(logger),
		logger:    logger,
		now:       time.Now,
		authToken: cfg.AuthToken,
		port:      cfg.Port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/ws", s.hub.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/api/positions", s.handleGetPositions)
			r.Get("/api/positions/{id}", s.handleGetPosition)
			r.Get("/api/stats", s.handleGetStats)
			r.Get("/api/risk", s.handleGetRisk)
			r.Get("/api/trades", s.handleGetTrades)
			r.Get("/api/events", s.handleGetEvents)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the tick broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting dashboard server on port %d", s.port)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the listener and disconnects stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if s.engine != nil && s.engine.Halted() {
		status = "halted"
	}
	s.writeJSON(w, map[string]interface{}{
		"status":    status,
		"timestamp": s.now().Unix(),
	})
}

func (s *Server) openPositions(ctx context.Context) ([]*models.Position, error) {
	if s.engine != nil {
		return s.engine.OpenPositions(), nil
	}
	if s.storage == nil {
		return nil, nil
	}
	return s.storage.QueryOpenPositions(ctx)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.openPositions(r.Context())
	if err != nil {
		s.fail(w, "Failed to load positions", err)
		return
	}
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, s.toView(p))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	positions, err := s.openPositions(r.Context())
	if err != nil {
		s.fail(w, "Failed to load positions", err)
		return
	}
	for _, p := range positions {
		if p.ID == id {
			s.writeJSON(w, s.toView(p))
			return
		}
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	view := StatsView{Trades: &storage.Statistics{}}
	if s.storage != nil {
		stats, err := s.storage.GetStatistics(r.Context())
		if err != nil {
			s.fail(w, "Failed to calculate statistics", err)
			return
		}
		view.Trades = stats
	}
	positions, err := s.openPositions(r.Context())
	if err != nil {
		s.fail(w, "Failed to load positions", err)
		return
	}
	view.Open = len(positions)
	if s.engine != nil {
		st := s.engine.RiskSnapshot()
		view.Risk = &st
		view.Halted = st.Halted
	}
	s.writeJSON(w, view)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		http.Error(w, "No live engine", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.engine.RiskSnapshot())
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "bad from date", http.StatusBadRequest)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "bad to date", http.StatusBadRequest)
		return
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	trades := []*models.Position{}
	if s.storage != nil {
		if trades, err = s.storage.QueryTradeHistory(r.Context(), from, to); err != nil {
			s.fail(w, "Failed to load trade history", err)
			return
		}
	}
	if trades == nil {
		trades = []*models.Position{}
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseDate(r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, "bad since date", http.StatusBadRequest)
		return
	}
	if since.IsZero() {
		since = s.now().AddDate(0, 0, -7)
	}
	events := []storage.RiskEvent{}
	if s.storage != nil {
		if events, err = s.storage.QueryRiskEvents(r.Context(), since); err != nil {
			s.fail(w, "Failed to load risk events", err)
			return
		}
	}
	if events == nil {
		events = []storage.RiskEvent{}
	}
	s.writeJSON(w, events)
}

func (s *Server) toView(p *models.Position) PositionView {
	now := s.now()
	return PositionView{
		ID:            p.ID,
		Symbol:        p.Symbol,
		State:         string(p.GetCurrentState()),
		EntryDate:     p.EntryDate,
		Expiration:    p.Expiration,
		ExitReason:    string(p.ExitReason),
		ShortPut:      p.ShortPut().Strike,
		LongPut:       p.LongPut().Strike,
		ShortCall:     p.ShortCall().Strike,
		LongCall:      p.LongCall().Strike,
		EntryCredit:   p.EntryCredit,
		CurrentValue:  p.CurrentValue,
		UnrealizedPnL: p.UnrealizedPnL(),
		ProfitPercent: p.ProfitPercent(),
		MaxRisk:       p.MaxRisk(),
		DTE:           p.DTE(now),
		Quantity:      p.Quantity,
	}
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", v)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.WithError(err).Error(msg)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
