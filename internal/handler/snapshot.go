package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/docscan/internal/snapshot"
)

type SnapshotHandler struct {
	manager *snapshot.Manager
	logger  *slog.Logger
}

func NewSnapshotHandler(mgr *snapshot.Manager, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{manager: mgr, logger: logger}
}

func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshots := []snapshot.Info{}
	if h.manager.Enabled() {
		infos, err := h.manager.List(r.Context())
		if err != nil {
			h.logger.Error("list snapshots", "error", err)
			writeError(w, http.StatusBadGateway, "failed to list snapshots")
			return
		}
		if infos != nil {
			snapshots = infos
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    h.manager.Status(),
		"snapshots": snapshots,
	})
}

func (h *SnapshotHandler) Run(w http.ResponseWriter, r *http.Request) {
	info, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.writeSnapshotError(w, "run snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

type restoreRequest struct {
	Key string `json:"key"`
}

func (h *SnapshotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	info, err := h.manager.Restore(r.Context(), req.Key)
	if err != nil {
		h.writeSnapshotError(w, "restore snapshot", err)
		return
	}
	h.logger.Info("ledger restored", "key", info.Key, "accounts", info.Accounts, "admin", adminName(r))
	writeJSON(w, http.StatusOK, info)
}

func (h *SnapshotHandler) writeSnapshotError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, snapshot.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, snapshot.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, snapshot.ErrDecrypt):
		writeError(w, http.StatusUnprocessableEntity, "snapshot could not be decrypted")
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusBadGateway, op+" failed")
	}
}
