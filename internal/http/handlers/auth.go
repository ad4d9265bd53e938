package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/xielinshan811-lab/svg-animate/internal/auth"
	"github.com/xielinshan811-lab/svg-animate/internal/credit"
	"github.com/xielinshan811-lab/svg-animate/internal/http/respond"
	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/models/dto"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
)

// AuthHandler owns the register and login endpoints.
type AuthHandler struct {
	store   storage.UserStore
	credits *credit.Service
	tokens  *auth.TokenManager
	log     *logrus.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(store storage.UserStore, credits *credit.Service, tokens *auth.TokenManager, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{store: store, credits: credits, tokens: tokens, log: log}
}

// Register creates a user account, grants the signup gift through the credit
// service, and returns the sanitized user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		respond.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.WithError(err).Error("hash password")
		respond.Error(w, http.StatusInternalServerError, "registration failed, please retry later")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = emailLocalPart(email)
	}

	user, err := h.store.CreateUser(r.Context(), models.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			respond.Error(w, http.StatusConflict, "email is already registered")
			return
		}
		h.log.WithError(err).Error("create user")
		respond.Error(w, http.StatusInternalServerError, "registration failed, please retry later")
		return
	}

	gift, err := h.credits.GrantSignupGift(r.Context(), user.ID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", user.ID).Error("grant signup gift")
		respond.Error(w, http.StatusInternalServerError, "registration failed, please retry later")
		return
	}
	user.Credits = gift.Balance

	h.log.WithField("email", user.Email).Info("user registered")
	respond.JSON(w, http.StatusCreated, map[string]any{"user": user})
}

// Login authenticates the user and issues a signed token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		respond.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Error(w, http.StatusUnauthorized, "user not found")
			return
		}
		h.log.WithError(err).Error("find user by email")
		respond.Error(w, http.StatusInternalServerError, "login failed, please retry later")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.log.WithError(err).Error("issue token")
		respond.Error(w, http.StatusInternalServerError, "login failed, please retry later")
		return
	}

	h.log.WithField("email", user.Email).Info("user logged in")
	respond.JSON(w, http.StatusOK, dto.LoginResponse{Token: token, User: user})
}

func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
