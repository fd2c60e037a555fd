package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"market_go/internal/domain"
	"market_go/internal/infra"
	"market_go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Server exposes the market state to the trading UI
type Server struct {
	market      *service.MarketService
	theme       *service.ThemeService
	metrics     *infra.Metrics
	hub         *Hub
	upgrader    websocket.Upgrader
	corsOrigins []string // Allowed CORS origins (empty = allow all)
}

func NewServer(market *service.MarketService, theme *service.ThemeService, metrics *infra.Metrics) *Server {
	s := &Server{
		market:  market,
		theme:   theme,
		metrics: metrics,
		hub:     NewHub(metrics),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins sets the allowed CORS origins.
// Pass an empty slice to allow all origins (development).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/market", s.getMarket)
		r.Put("/market/symbol", s.switchSymbol)

		r.Get("/favorites", s.getFavorites)
		r.Get("/favorites/{symbol}", s.getFavorite)
		r.Post("/favorites/{symbol}/toggle", s.toggleFavorite)

		r.Get("/theme", s.getTheme)
		r.Post("/theme/toggle", s.toggleTheme)

		r.Get("/metrics", s.getMetrics)
	})

	r.Get("/ws", s.handleWebSocket)

	// Route table: "/" is the trading view, everything else redirects to it
	r.Get("/", s.tradingView)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})

	return r
}

// Pump forwards engine updates to websocket clients until ctx is done
func (s *Server) Pump(ctx context.Context) {
	eng := s.market.Engine()
	ch := eng.Subscribe()
	defer eng.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			s.hub.Broadcast(Message{Type: "market", Data: snap})
		}
	}
}

// ListenAndServe runs the HTTP server until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.Pump(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ======================================================================================
// Handlers
// ======================================================================================

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type favoriteResponse struct {
	Symbol   string `json:"symbol"`
	Favorite bool   `json:"favorite"`
}

type themeResponse struct {
	Dark bool `json:"dark"`
}

type marketResponse struct {
	domain.MarketState
	ChangeDirection string           `json:"change_direction"`
	Spread          decimal.Decimal  `json:"spread"`
	RangePosition   *decimal.Decimal `json:"range_position"` // null when high == low
	IsFavorite      bool             `json:"is_favorite"`
}

func (s *Server) tradingView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"view":   "trading",
		"symbol": s.market.Snapshot().Symbol,
		"dark":   s.theme.IsDark(),
	})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	snap := s.market.Snapshot()
	writeJSON(w, http.StatusOK, marketResponse{
		MarketState:     snap,
		ChangeDirection: snap.ChangeDirection(),
		Spread:          snap.Spread(),
		RangePosition:   snap.RangePosition(),
		IsFavorite:      s.market.IsFavorite(snap.Symbol),
	})
}

func (s *Server) switchSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.market.SwitchSymbol(req.Symbol); err != nil {
		if errors.Is(err, domain.ErrInvalidSymbol) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.getMarket(w, r)
}

func (s *Server) getFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"favorites": s.market.Favorites()})
}

func (s *Server) getFavorite(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	writeJSON(w, http.StatusOK, favoriteResponse{Symbol: symbol, Favorite: s.market.IsFavorite(symbol)})
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	isFav, err := s.market.ToggleFavorite(symbol)
	if err != nil {
		slog.Error("Failed to toggle favorite", slog.String("symbol", symbol), slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RecordError()
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.hub.Broadcast(Message{Type: "favorites", Data: s.market.Favorites()})
	writeJSON(w, http.StatusOK, favoriteResponse{Symbol: symbol, Favorite: isFav})
}

func (s *Server) getTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, themeResponse{Dark: s.theme.IsDark()})
}

func (s *Server) toggleTheme(w http.ResponseWriter, r *http.Request) {
	isDark, err := s.theme.ToggleTheme()
	if err != nil {
		slog.Error("Failed to toggle theme", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.hub.Broadcast(Message{Type: "theme", Data: themeResponse{Dark: isDark}})
	writeJSON(w, http.StatusOK, themeResponse{Dark: isDark})
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, infra.MetricsSnapshot{
			ActiveClients: int32(s.hub.ClientCount()),
			Timestamp:     time.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	client := s.hub.newClient(conn)
	s.hub.Register(client)

	// Initial state so the UI can render before the next tick
	if data, err := json.Marshal(Message{Type: "market", Data: s.market.Snapshot()}); err == nil {
		client.send <- data
	}

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
