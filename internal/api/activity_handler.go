package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/scanwell/taskledger/internal/api/shared"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/ledger"
	"github.com/scanwell/taskledger/internal/store"
)

// ActivityHandler serves read access to the activity ledger.
type ActivityHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(led *ledger.Ledger, logger *slog.Logger) *ActivityHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ActivityHandler")
	}
	return &ActivityHandler{
		ledger: led,
		logger: logger.With(slog.String("component", "activity_handler")),
	}
}

// History handles GET /api/activity?target=&offset=&limit=.
func (h *ActivityHandler) History(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target")
	if targetID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "target is required")
		return
	}

	page := store.HistoryPage{
		Offset: intQueryParam(r, "offset", 0),
		Limit:  intQueryParam(r, "limit", 0),
	}

	recs, err := h.ledger.History(r.Context(), targetID, page)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to load activity history", err)
		return
	}

	// An unknown target is an empty history, not an error.
	out := make([]ActivityResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, activityToResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// Latest handles GET /api/activity/latest?type=&target=: the single
// current outcome for the pair, or 404 when nothing ever finished.
func (h *ActivityHandler) Latest(w http.ResponseWriter, r *http.Request) {
	taskType, targetID, ok := h.latestParams(w, r, "target")
	if !ok {
		return
	}

	rec, err := h.ledger.Latest(r.Context(), taskType, targetID)
	h.respondLatest(w, r, rec, err)
}

// LatestForMain handles GET /api/activity/latest/main?type=&main_target=:
// the current outcome for the owning main target regardless of which
// branch produced it.
func (h *ActivityHandler) LatestForMain(w http.ResponseWriter, r *http.Request) {
	taskType, mainTargetID, ok := h.latestParams(w, r, "main_target")
	if !ok {
		return
	}

	rec, err := h.ledger.LatestForMain(r.Context(), taskType, mainTargetID)
	h.respondLatest(w, r, rec, err)
}

func (h *ActivityHandler) latestParams(w http.ResponseWriter, r *http.Request, targetParam string) (taskType, target string, ok bool) {
	taskType = r.URL.Query().Get("type")
	if taskType == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "type is required")
		return "", "", false
	}
	// An empty target is legal: it addresses the unresolved-target slot
	// for the task type.
	target = r.URL.Query().Get(targetParam)
	return taskType, target, true
}

func (h *ActivityHandler) respondLatest(w http.ResponseWriter, r *http.Request, rec *domain.ActivityRecord, err error) {
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to load latest activity", err)
		return
	}
	if rec == nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "No activity recorded")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, activityToResponse(rec))
}

func intQueryParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
