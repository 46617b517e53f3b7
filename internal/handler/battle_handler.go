package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/freeeve/beverage-bandits/internal/auth"
	"github.com/freeeve/beverage-bandits/internal/logger"
	"github.com/freeeve/beverage-bandits/internal/service"
)

// BattleHandler handles battle endpoints.
type BattleHandler struct {
	battleSvc *service.BattleService
}

// NewBattleHandler creates a BattleHandler.
func NewBattleHandler(battleSvc *service.BattleService) *BattleHandler {
	return &BattleHandler{battleSvc: battleSvc}
}

// CreateBattle handles POST /api/v1/battles
//
// The body is either JSON {"map": "...", "async": false} or the raw map as
// text/plain. Async battles return 202 with the running battle; progress is
// streamed over the WebSocket.
func (h *BattleHandler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxMapBytes+1024)

	var req struct {
		Map   string `json:"map"`
		Async bool   `json:"async,omitempty"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "map too large")
			return
		}
		req.Map = string(body)
		req.Async = r.URL.Query().Get("async") == "true"
	} else if err := decodeJSON(r, &req); err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "map too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Map) == "" {
		writeError(w, http.StatusBadRequest, "map is required")
		return
	}

	if req.Async {
		b, err := h.battleSvc.Start(r.Context(), userID, req.Map)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, b)
		return
	}

	b, err := h.battleSvc.Simulate(r.Context(), userID, req.Map)
	if err != nil {
		if errors.Is(err, service.ErrNoConvergence) && b != nil {
			writeJSON(w, http.StatusUnprocessableEntity, b)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// ListBattles handles GET /api/v1/battles
func (h *BattleHandler) ListBattles(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	battles, err := h.battleSvc.ListBattles(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, battles)
}

// GetBattle handles GET /api/v1/battles/{id}
func (h *BattleHandler) GetBattle(w http.ResponseWriter, r *http.Request) {
	b, err := h.battleSvc.GetBattle(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListRounds handles GET /api/v1/battles/{id}/rounds
func (h *BattleHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.battleSvc.ListRounds(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, rounds)
}

func (h *BattleHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidMap):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrBattleNotFound):
		writeError(w, http.StatusNotFound, "battle not found")
	case errors.Is(err, service.ErrNoConvergence):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		l := logger.ForRequest(r.Context())
		l.Error().Err(err).Msg("Battle request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
