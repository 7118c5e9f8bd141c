package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"marketsim/internal/archive"
	"marketsim/internal/config"
	"marketsim/internal/decision"
	"marketsim/internal/game"
	"marketsim/internal/scenario"
	"marketsim/internal/sim"
	"marketsim/internal/store"
)

const defaultResearchCacheSize = 256

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	game     *game.Service
	hub      *Hub
	research *lru.Cache
	mux      *chi.Mux
}

// New builds the HTTP API and registers its stream hub as the service's
// round notifier.
func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.ResearchCacheSize
	if size <= 0 {
		size = defaultResearchCacheSize
	}
	cache, _ := lru.New(size)
	s := &Server{
		cfg:      cfg,
		log:      logger,
		game:     gameSvc,
		hub:      NewHub(logger),
		research: cache,
		mux:      chi.NewRouter(),
	}
	gameSvc.SetNotifier(s.hub)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.tokenMiddleware)

		// The stream is long-lived; it stays outside the request timeout.
		r.Get("/games/{gameID}/stream", s.hub.Handler(s.game))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/scenarios", s.handleScenarios)

			r.Post("/games", s.handleCreateGame)
			r.Get("/games", s.handleListGames)
			r.Post("/games/join", s.handleJoinGame)
			r.Get("/games/{gameID}", s.handleGame)
			r.Get("/games/{gameID}/teams", s.handleGameTeams)
			r.Post("/games/{gameID}/rivals", s.handleAddRivals)
			r.Post("/games/{gameID}/advance", s.handleAdvance)
			r.Get("/games/{gameID}/leaderboard", s.handleLeaderboard)
			r.Get("/games/{gameID}/export", s.handleExport)
			r.Get("/games/{gameID}/rounds/{round}/results", s.handleRoundResults)
			r.Get("/games/{gameID}/rounds/{round}/research", s.handleResearch)

			r.Get("/teams/{teamID}", s.handleTeam)
			r.Get("/teams/{teamID}/brands", s.handleListBrands)
			r.Post("/teams/{teamID}/brands", s.handleCreateBrand)
			r.Patch("/teams/{teamID}/brands/{brandID}", s.handleUpdateBrand)
			r.Delete("/teams/{teamID}/brands/{brandID}", s.handleDeactivateBrand)
			r.Post("/teams/{teamID}/decisions", s.handleSubmitDecision)
			r.Get("/teams/{teamID}/decisions/{round}", s.handleDecision)
			r.Get("/teams/{teamID}/results", s.handleTeamResults)
		})
	})
}

// tokenMiddleware enforces the shared bearer token when one is configured.
func (s *Server) tokenMiddleware(next http.Handler) http.Handler {
	want := []byte(s.cfg.APIToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(want) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": s.game.Scenarios()})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          string `json:"name"`
		ScenarioID    string `json:"scenario_id"`
		Rivals        int    `json:"rivals"`
		RoundDuration string `json:"round_duration"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var duration time.Duration
	if in.RoundDuration != "" {
		d, err := time.ParseDuration(in.RoundDuration)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid round_duration")
			return
		}
		duration = d
	}
	g, err := s.game.CreateGame(r.Context(), game.CreateGameInput{
		Name:          in.Name,
		ScenarioID:    in.ScenarioID,
		Rivals:        in.Rivals,
		RoundDuration: duration,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.ListGames(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": out})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.game.Game(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGameTeams(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Teams(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": out})
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code     string `json:"code"`
		TeamName string `json:"team_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.game.JoinGame(r.Context(), game.JoinGameInput{
		Code:           in.Code,
		TeamName:       in.TeamName,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleAddRivals(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Count int `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Count <= 0 {
		writeError(w, http.StatusBadRequest, "count must be positive")
		return
	}
	out, err := s.game.AddRivals(r.Context(), chi.URLParam(r, "gameID"), in.Count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"teams": out})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Force bool `json:"force"`
	}
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.AdvanceRound(r.Context(), chi.URLParam(r, "gameID"), in.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Leaderboard(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	a, err := s.game.Export(r.Context(), gameID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.msim.zst"`, gameID))
	w.WriteHeader(http.StatusOK)
	if err := archive.Write(w, a); err != nil {
		s.log.Error("export write failed", "game_id", gameID, "err", err)
	}
}

func (s *Server) handleRoundResults(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(w, r)
	if !ok {
		return
	}
	out, err := s.game.RoundResults(r.Context(), chi.URLParam(r, "gameID"), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// handleResearch serves market research. A resolved round's research never
// changes, so it is cached by (game, round).
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(w, r)
	if !ok {
		return
	}
	gameID := chi.URLParam(r, "gameID")
	key := gameID + "/" + strconv.Itoa(round)
	if v, ok := s.research.Get(key); ok {
		writeJSON(w, http.StatusOK, v.(sim.MarketResearch))
		return
	}
	mr, err := s.game.MarketResearch(r.Context(), gameID, round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.research.Add(key, mr)
	writeJSON(w, http.StatusOK, mr)
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	t, err := s.game.Team(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListBrands(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	out, err := s.game.ListBrands(r.Context(), chi.URLParam(r, "teamID"), all)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brands": out})
}

func (s *Server) handleCreateBrand(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          string         `json:"name"`
		TargetSegment string         `json:"target_segment"`
		Components    sim.Components `json:"components"`
		RDInvestment  int64          `json:"rd_investment"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.game.CreateBrand(r.Context(), game.CreateBrandInput{
		TeamID:         chi.URLParam(r, "teamID"),
		Name:           in.Name,
		TargetSegment:  in.TargetSegment,
		Components:     in.Components,
		RDInvestment:   in.RDInvestment,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBrand(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          *string         `json:"name"`
		TargetSegment *string         `json:"target_segment"`
		Components    *sim.Components `json:"components"`
		RDInvestment  *int64          `json:"rd_investment"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.game.UpdateBrand(r.Context(), game.UpdateBrandInput{
		TeamID:        chi.URLParam(r, "teamID"),
		BrandID:       chi.URLParam(r, "brandID"),
		Name:          in.Name,
		TargetSegment: in.TargetSegment,
		Components:    in.Components,
		RDInvestment:  in.RDInvestment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeactivateBrand(w http.ResponseWriter, r *http.Request) {
	if err := s.game.DeactivateBrand(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "brandID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Round    int             `json:"round"`
		Final    bool            `json:"final"`
		Decision json.RawMessage `json:"decision"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.game.SubmitDecision(r.Context(), game.SubmitDecisionInput{
		TeamID:         chi.URLParam(r, "teamID"),
		Round:          in.Round,
		Payload:        in.Decision,
		Final:          in.Final,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(w, r)
	if !ok {
		return
	}
	rec, err := s.game.Decision(r.Context(), chi.URLParam(r, "teamID"), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTeamResults(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.TeamResults(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func roundParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || round < 1 {
		writeError(w, http.StatusBadRequest, "round must be a positive integer")
		return 0, false
	}
	return round, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrGameNotFound), errors.Is(err, game.ErrTeamNotFound),
		errors.Is(err, game.ErrBrandNotFound), errors.Is(err, game.ErrRoundNotFound),
		errors.Is(err, game.ErrDecisionNotFound), errors.Is(err, scenario.ErrUnknownScenario):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrDuplicateIdempotency), errors.Is(err, game.ErrRoundConflict),
		errors.Is(err, game.ErrDuplicateBrand), errors.Is(err, game.ErrDuplicateTeam),
		errors.Is(err, game.ErrNotAllSubmitted), errors.Is(err, game.ErrAlreadySubmitted),
		errors.Is(err, game.ErrGameFinished),
		errors.Is(err, game.ErrGameFull), errors.Is(err, store.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, decision.ErrOverBudget):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, game.ErrInvalidName), errors.Is(err, game.ErrUnknownSegment),
		errors.Is(err, game.ErrBrandLimit), errors.Is(err, decision.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
