package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/store"
)

const (
	defaultListLimit    = 50
	defaultSearchLimit  = 10
	defaultFactLimit    = 100
	defaultSessionLimit = 20
)

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev pipeline.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !pipeline.Known(ev.Name) {
		writeError(w, http.StatusBadRequest, "unknown event "+strconv.Quote(ev.Name))
		return
	}
	res := s.eng.Dispatch(r.Context(), ev)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)
	previews, err := s.eng.DB.ListAll(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if previews == nil {
		previews = []store.Preview{}
	}
	writeJSON(w, http.StatusOK, previews)
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var p store.StoreParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := s.eng.DB.Store(r.Context(), p)
	if err != nil {
		code := http.StatusInternalServerError
		var se *store.StorageError
		if errors.Is(err, config.ErrInvalidConfig) || !errors.As(err, &se) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleCountMemories(w http.ResponseWriter, r *http.Request) {
	n, err := s.eng.DB.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := s.eng.DB.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(recs) == 0 {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, recs[0])
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.eng.DB.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}
	gating := s.eng.Config.Gating
	gating.AllowPrivate = queryBool(r, "allow_private", gating.AllowPrivate)
	gating.AllowSecret = queryBool(r, "allow_secret", gating.AllowSecret)

	ranked, err := s.eng.DB.SearchV2(r.Context(), store.SearchParams{
		Query:   q,
		Limit:   queryInt(r, "limit", defaultSearchLimit),
		Scoring: s.eng.Config.Scoring,
		Gating:  gating,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ranked == nil {
		ranked = []store.Ranked{}
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleTemporal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}
	ranked, err := s.eng.Temporal.BalancedRetrieve(r.Context(), q, s.eng.Config.Scoring, s.eng.Config.Gating)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ranked == nil {
		ranked = []store.Ranked{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allocation": s.eng.Temporal.Allocation(),
		"results":    ranked,
	})
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	var (
		facts []store.Fact
		err   error
	)
	switch {
	case r.URL.Query().Get("subject") != "":
		facts, err = s.eng.DB.FactsBySubject(r.Context(), r.URL.Query().Get("subject"), queryInt(r, "limit", defaultFactLimit))
	case r.URL.Query().Get("source") != "":
		facts, err = s.eng.DB.FactsBySource(r.Context(), r.URL.Query().Get("source"))
	default:
		writeError(w, http.StatusBadRequest, "subject or source parameter required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if facts == nil {
		facts = []store.Fact{}
	}
	writeJSON(w, http.StatusOK, facts)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.eng.DB.RecentSessions(r.Context(), queryInt(r, "limit", defaultSessionLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.eng.DB.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"session": sess}
	if live, ok := s.eng.Capture.Session(sessionID); ok {
		resp["active"] = true
		resp["files_read"] = live.FilesRead
		resp["files_modified"] = live.FilesModified
		resp["tool_counts"] = live.ToolCounts
	} else {
		resp["active"] = false
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"segment_index": s.eng.Boundaries.GetCurrentSegmentIndex(sessionID),
		"boundaries":    s.eng.Boundaries.GetBoundaries(sessionID),
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := s.eng.DB.PurgeExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.Consolidator.Consolidate(r.Context())
	if err != nil {
		s.log.Warn("consolidate failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.Compressor.Compress(r.Context())
	if err != nil {
		s.log.Warn("compress failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, key string, def bool) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
