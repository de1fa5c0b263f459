package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"halo-tracker/internal/api"
	"halo-tracker/internal/middleware"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/service"
	"halo-tracker/internal/syncer"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type TrackerServer struct {
	playerSvc *service.PlayerService
	matchSvc  *service.MatchService
	syncSvc   *service.SyncService
	metrics   http.Handler
	logger    zerolog.Logger
}

func NewTrackerServer(
	playerSvc *service.PlayerService,
	matchSvc *service.MatchService,
	syncSvc *service.SyncService,
	metrics http.Handler,
	logger zerolog.Logger,
) *TrackerServer {
	return &TrackerServer{
		playerSvc: playerSvc,
		matchSvc:  matchSvc,
		syncSvc:   syncSvc,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *TrackerServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.Health)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/players/search", s.SearchPlayers)
		r.Route("/players/{id}", func(r chi.Router) {
			r.Get("/", s.GetPlayer)
			r.Get("/matches", s.GetMatches)
			r.Get("/summary", s.GetSummary)
			r.Get("/aliases", s.GetAliases)
			r.Get("/runs", s.GetSyncRuns)
			r.Post("/sync", s.SyncPlayer)
		})
		r.Post("/sync", s.SyncAll)

		r.Get("/matches/{matchID}", s.GetMatchDetail)
		r.Get("/matches/{matchID}/raw/{kind}", s.GetRawPayload)
	})

	return r
}

func (s *TrackerServer) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *TrackerServer) SearchPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.playerSvc.SearchSuggestions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, players)
}

func (s *TrackerServer) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.playerSvc.GetPlayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, player)
}

func (s *TrackerServer) GetMatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondStatus(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	matches, err := s.matchSvc.GetMatchesFor(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, matches)
}

func (s *TrackerServer) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.matchSvc.GetSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, summary)
}

func (s *TrackerServer) GetAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := s.playerSvc.Aliases(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, aliases)
}

func (s *TrackerServer) GetSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.playerSvc.SyncRuns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, runs)
}

func (s *TrackerServer) GetMatchDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.matchSvc.GetMatchDetail(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, detail)
}

type rawPayloadResponse struct {
	MatchID   string         `json:"match_id"`
	Kind      api.Kind       `json:"kind"`
	FetchedAt time.Time      `json:"fetched_at"`
	Data      map[string]any `json:"data"`
}

func (s *TrackerServer) GetRawPayload(w http.ResponseWriter, r *http.Request) {
	kind := api.Kind(chi.URLParam(r, "kind"))
	if kind != api.KindMatchStats && kind != api.KindMatchSkill {
		respondStatus(w, r, http.StatusBadRequest, "kind must be match_stats or match_skill")
		return
	}

	stored, err := s.matchSvc.GetRawPayload(r.Context(), chi.URLParam(r, "matchID"), kind)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, rawPayloadResponse{
		MatchID:   chi.URLParam(r, "matchID"),
		Kind:      stored.Payload.Kind,
		FetchedAt: stored.FetchedAt,
		Data:      stored.Payload.Data,
	})
}

type syncResponse struct {
	syncer.Result
	Shared bool   `json:"shared"`
	Error  string `json:"error,omitempty"`
}

func (s *TrackerServer) SyncPlayer(w http.ResponseWriter, r *http.Request) {
	opts, err := s.syncOptions(r)
	if err != nil {
		respondStatus(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, shared, err := s.syncSvc.SyncPlayer(r.Context(), chi.URLParam(r, "id"), opts)
	resp := syncResponse{Result: res, Shared: shared}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, r, statusFor(err), resp)
		return
	}
	respondJSON(w, r, http.StatusOK, resp)
}

type syncAllResponse struct {
	Results map[string]syncResponse `json:"results"`
	Failed  int                     `json:"failed"`
	Shared  bool                    `json:"shared"`
	Error   string                  `json:"error,omitempty"`
}

func (s *TrackerServer) SyncAll(w http.ResponseWriter, r *http.Request) {
	opts, err := s.syncOptions(r)
	if err != nil {
		respondStatus(w, r, http.StatusBadRequest, err.Error())
		return
	}

	results, shared, err := s.syncSvc.SyncAll(r.Context(), opts)
	resp := syncAllResponse{Results: make(map[string]syncResponse, len(results)), Shared: shared}
	for xuid, res := range results {
		item := syncResponse{Result: res, Error: res.Failure()}
		if !res.OK() {
			resp.Failed++
		}
		resp.Results[xuid] = item
	}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, r, statusFor(err), resp)
		return
	}
	respondJSON(w, r, http.StatusOK, resp)
}

var errBadSyncParams = errors.New("invalid sync parameters")

// syncOptions reads max_matches, force_full and since (RFC 3339) from the
// query string on top of the configured defaults.
func (s *TrackerServer) syncOptions(r *http.Request) (syncer.Options, error) {
	opts := s.syncSvc.DefaultOptions()
	q := r.URL.Query()

	if v := q.Get("max_matches"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.Join(errBadSyncParams, err)
		}
		opts.MaxMatches = n
	}
	if v := q.Get("force_full"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.Join(errBadSyncParams, err)
		}
		opts.ForceFull = b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.Join(errBadSyncParams, err)
		}
		opts.Since = t.UTC()
	}
	return opts, nil
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrPlayerNotFound),
		errors.Is(err, repository.ErrMatchNotFound),
		errors.Is(err, repository.ErrPayloadNotFound),
		api.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrAPI):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondStatus(w, r, status, err.Error())
}

func respondStatus(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, r, status, errorResponse{Error: msg, RequestID: middleware.GetRequestID(r.Context())})
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to write response")
	}
}
