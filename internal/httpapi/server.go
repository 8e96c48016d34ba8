package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/engine"
	"github.com/Masterora/agent-arena/internal/market"
)

// maxBodyBytes bounds request bodies; scripts are the largest payload.
const maxBodyBytes = 1 << 20

// Server serves the arena REST API.
type Server struct {
	svc     *arena.Service
	sources []string
	version string
	log     *slog.Logger
}

// NewServer creates a REST server in front of svc. sources lists the market
// source names reported by /health.
func NewServer(svc *arena.Service, sources []string, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, sources: sources, version: version, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	mux.HandleFunc("GET /api/strategies/types", s.handleStrategyTypes)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("PUT /api/strategies/{id}", s.handleUpdateStrategy)
	mux.HandleFunc("DELETE /api/strategies/{id}", s.handleDeleteStrategy)

	mux.HandleFunc("GET /api/matches", s.handleListMatches)
	mux.HandleFunc("POST /api/matches/run", s.handleRunMatch)
	mux.HandleFunc("GET /api/matches/{id}", s.handleGetMatch)
	mux.HandleFunc("GET /api/matches/{id}/values/{strategy}", s.handleValueHistory)

	mux.HandleFunc("GET /api/market/candles", s.handleCandles)
	mux.HandleFunc("GET /api/market/symbols", s.handleCachedSymbols)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return CORS(mux)
}

// CORS allows browser clients from any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case engine.IsConfigError(err), errors.Is(err, domain.ErrInsufficientData):
		return http.StatusBadRequest
	case errors.Is(err, arena.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, domain.ErrInvalidConfig)
	}
	return nil
}

// -----------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	types := s.svc.StrategyTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Type
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Sources:    s.sources,
		Strategies: names,
	})
}

// -----------------------------------------------------------------------
// Strategies
// -----------------------------------------------------------------------

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListStrategies(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.StrategySpec{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStrategyTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.StrategyTypes())
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var in arena.StrategyInput
	if err := decodeBody(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	spec, err := s.svc.CreateStrategy(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	spec, err := s.svc.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var in arena.StrategyInput
	if err := decodeBody(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	spec, err := s.svc.UpdateStrategy(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteStrategy(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	matches, err := s.svc.ListMatches(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if matches == nil {
		matches = []domain.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleRunMatch(w http.ResponseWriter, r *http.Request) {
	var req arena.RunRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.svc.RunMatch(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	includeLogs, _ := strconv.ParseBool(r.URL.Query().Get("include_logs"))
	m, err := s.svc.GetMatch(r.Context(), r.PathValue("id"), includeLogs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleValueHistory(w http.ResponseWriter, r *http.Request) {
	matchID, strategyID := r.PathValue("id"), r.PathValue("strategy")
	values, err := s.svc.ValueHistory(r.Context(), matchID, strategyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueHistoryResponse{MatchID: matchID, StrategyID: strategyID, Values: values})
}

// -----------------------------------------------------------------------
// Market
// -----------------------------------------------------------------------

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := market.Request{
		Symbol:    strings.TrimSpace(q.Get("symbol")),
		Timeframe: q.Get("timeframe"),
		Kind:      q.Get("kind"),
		Steps:     100,
	}
	if v := q.Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid steps %q", v))
			return
		}
		req.Steps = n
	}
	if v := q.Get("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid seed %q", v))
			return
		}
		req.Seed = n
	}
	source := q.Get("source")
	candles, err := s.svc.Candles(r.Context(), source, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if source == "" {
		source = s.svc.Options().DefaultSource
	}
	if req.Symbol == "" {
		req.Symbol = s.svc.Options().DefaultPair
	}
	if req.Timeframe == "" {
		req.Timeframe = s.svc.Options().DefaultTimeframe
	}
	writeJSON(w, http.StatusOK, CandlesResponse{Source: source, Symbol: req.Symbol, Timeframe: req.Timeframe, Candles: candles})
}

func (s *Server) handleCachedSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.svc.CachedSymbols(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SymbolsResponse{Sources: symbols})
}
