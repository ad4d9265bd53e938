package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/xielinshan811-lab/svg-animate/internal/credit"
	"github.com/xielinshan811-lab/svg-animate/internal/http/respond"
	"github.com/xielinshan811-lab/svg-animate/internal/middleware"
	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/models/dto"
)

// RechargeHandler lists credit packages and redeems them. Payment is
// simulated: a valid package id credits the account unconditionally.
type RechargeHandler struct {
	credits *credit.Service
	log     *logrus.Logger
}

// NewRechargeHandler constructs the handler.
func NewRechargeHandler(credits *credit.Service, log *logrus.Logger) *RechargeHandler {
	return &RechargeHandler{credits: credits, log: log}
}

// ListPackages returns the static catalog.
func (h *RechargeHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{"packages": credit.Packages()})
}

// Redeem credits the authenticated user with the chosen package.
func (h *RechargeHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req dto.RechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	pkg, ok := credit.PackageByID(req.PackageID)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "unknown recharge package")
		return
	}

	note := fmt.Sprintf("recharged %d credits, paid ¥%.1f", pkg.Credits, pkg.Price)
	tx, err := h.credits.Adjust(r.Context(), userID, pkg.Credits, models.TxRecharge, note)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("redeem package")
		respond.Error(w, http.StatusInternalServerError, "recharge failed, please retry later")
		return
	}

	respond.JSON(w, http.StatusOK, dto.RechargeResponse{Credits: tx.Balance, Added: pkg.Credits})
}
