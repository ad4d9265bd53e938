package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/xielinshan811-lab/svg-animate/internal/credit"
	"github.com/xielinshan811-lab/svg-animate/internal/http/respond"
	"github.com/xielinshan811-lab/svg-animate/internal/middleware"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
)

// UserHandler serves the current user's profile and ledger history. Both
// routes sit behind the auth middleware.
type UserHandler struct {
	store   storage.UserStore
	credits *credit.Service
	log     *logrus.Logger
}

// NewUserHandler constructs the handler.
func NewUserHandler(store storage.UserStore, credits *credit.Service, log *logrus.Logger) *UserHandler {
	return &UserHandler{store: store, credits: credits, log: log}
}

// Me returns the fresh user row for the authenticated caller.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authorization required")
		return
	}

	user, err := h.store.FindByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "user not found")
			return
		}
		h.log.WithError(err).Error("find user by id")
		respond.Error(w, http.StatusInternalServerError, "failed to load user, please retry later")
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{"user": user})
}

// Transactions returns the caller's ledger entries, newest first.
func (h *UserHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authorization required")
		return
	}

	history, err := h.credits.History(r.Context(), userID)
	if err != nil {
		h.log.WithError(err).Error("list transactions")
		respond.Error(w, http.StatusInternalServerError, "failed to load transactions, please retry later")
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{"transactions": history})
}
