package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/attested-randomness/api"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/kms"
)

// AdminHandler lets operators unlock an oracle's ShamirKMS by submitting
// signed shares of its master seed.
type AdminHandler struct {
	kms  *kms.ShamirKMS
	log  *slog.Logger
	once sync.Once
	done chan struct{}
}

func NewAdminHandler(shamirKMS *kms.ShamirKMS, log *slog.Logger) *AdminHandler {
	return &AdminHandler{kms: shamirKMS, log: log, done: make(chan struct{})}
}

// WaitForUnlock blocks until the KMS is unlocked or ctx is done.
func (h *AdminHandler) WaitForUnlock(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdminRouter serves GET /status and POST /share.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Post("/share", h.handleSubmitShare)
	return r
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := "locked"
	if h.kms.IsUnlocked() {
		state = "unlocked"
	}
	writeJSON(w, http.StatusOK, api.AdminStatusResponse{State: state})
}

func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	var sub api.ShareSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid request body", Kind: interfaces.KindValidation.String()})
		return
	}

	err := h.kms.SubmitShare(sub.Admin, sub.Share, sub.Signature)
	switch {
	case err == nil:
	case errorsIsAny(err, kms.ErrUnknownAdmin, kms.ErrInvalidShareSig):
		h.log.Warn("rejected share", "admin", sub.Admin, "err", err)
		writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: err.Error(), Kind: interfaces.KindAuthorization.String()})
		return
	case errorsIsAny(err, kms.ErrAlreadyUnlocked):
		writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: err.Error(), Kind: interfaces.KindState.String()})
		return
	default:
		h.log.Error("failed to process share", "admin", sub.Admin, "err", err)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: err.Error(), Kind: interfaces.KindUnknown.String()})
		return
	}

	h.log.Info("share accepted", "admin", sub.Admin)
	if h.kms.IsUnlocked() {
		h.once.Do(func() { close(h.done) })
		h.log.Info("KMS unlocked")
	}
	h.handleStatus(w, r)
}
