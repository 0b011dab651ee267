package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goingthrice/bidengine/internal/domain"
)

// SettlementLister lists settlement intents still waiting to be applied.
type SettlementLister interface {
	Pending(ctx context.Context, limit int) ([]domain.Settlement, error)
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	settlements SettlementLister
	logger      *slog.Logger
	triggerCh   chan<- struct{} // when non-nil, sending triggers one sweep
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(settlements SettlementLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{settlements: settlements, logger: logger.With(slog.String("handler", "admin"))}
}

// WithTriggerChannel sets the channel to send on when a sweep is requested.
// The sweeper loop must receive from this channel to run one extra pass.
func (h *AdminHandler) WithTriggerChannel(ch chan<- struct{}) *AdminHandler {
	h.triggerCh = ch
	return h
}

// TriggerSweep asks the lifecycle sweeper for an immediate pass.
// POST /api/admin/sweep
func (h *AdminHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "sweep trigger requested")
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper is not running in this process")
		return
	}
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// PendingSettlements lists settlement intents not yet applied.
// GET /api/admin/settlements?limit=50
func (h *AdminHandler) PendingSettlements(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	pending, err := h.settlements.Pending(r.Context(), opts.Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "pending settlements", err)
		return
	}
	out := make([]settlementView, 0, len(pending))
	for _, s := range pending {
		out = append(out, settlementView{
			AuctionID: s.AuctionID,
			Status:    string(s.Status),
			Attempts:  s.Attempts,
			LastError: s.LastError,
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": out})
}
