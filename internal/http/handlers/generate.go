package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/xielinshan811-lab/svg-animate/internal/auth"
	"github.com/xielinshan811-lab/svg-animate/internal/credit"
	"github.com/xielinshan811-lab/svg-animate/internal/http/respond"
	"github.com/xielinshan811-lab/svg-animate/internal/llm"
	"github.com/xielinshan811-lab/svg-animate/internal/middleware"
	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/models/dto"
	"github.com/xielinshan811-lab/svg-animate/internal/ratelimit"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
	"github.com/xielinshan811-lab/svg-animate/pkg/metrics"
)

const notePromptRunes = 50

// GenerateHandler proxies prompts to the upstream model and relays the
// streamed reply. An invalid or absent bearer token degrades the request to
// anonymous, unbilled handling; that fallback is intentional, see the auth
// resolution below.
type GenerateHandler struct {
	store   storage.UserStore
	credits *credit.Service
	tokens  *auth.TokenManager
	client  *llm.Client
	limiter ratelimit.Limiter
	log     *logrus.Logger
}

// NewGenerateHandler constructs the handler.
func NewGenerateHandler(store storage.UserStore, credits *credit.Service, tokens *auth.TokenManager, client *llm.Client, limiter ratelimit.Limiter, log *logrus.Logger) *GenerateHandler {
	return &GenerateHandler{store: store, credits: credits, tokens: tokens, client: client, limiter: limiter, log: log}
}

// Generate validates the prompt, debits one credit for authenticated callers,
// and streams the model output as plain text. The debit happens before the
// upstream call and is not refunded if the call fails afterwards.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req dto.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		respond.Error(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}

	// A token that fails verification falls through to the anonymous path
	// rather than rejecting the request.
	userID := ""
	if token := middleware.BearerToken(r); token != "" {
		if id, err := h.tokens.Verify(token); err == nil {
			userID = id
		}
	}

	if userID == "" {
		if !h.allowAnonymous(r) {
			metrics.RecordGeneration("rate_limited")
			respond.Error(w, http.StatusTooManyRequests, "too many requests, please slow down")
			return
		}
	} else if !h.debit(w, r, userID, prompt) {
		return
	}

	stream, err := h.client.StreamGeneration(r.Context(), prompt)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrMissingAPIKey):
			metrics.RecordGeneration("misconfigured")
			respond.Error(w, http.StatusInternalServerError, "DEEPSEEK_API_KEY is not configured")
		default:
			metrics.RecordGeneration("upstream_error")
			h.log.WithError(err).Error("open generation stream")
			respond.Error(w, http.StatusInternalServerError, "generation failed, please retry later")
		}
		return
	}
	defer stream.Close()

	h.relay(w, stream)
}

// debit enforces the balance check and records the use entry. It writes the
// error response itself and reports whether the request may proceed.
func (h *GenerateHandler) debit(w http.ResponseWriter, r *http.Request, userID, prompt string) bool {
	user, err := h.store.FindByID(r.Context(), userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.WithError(err).WithField("user_id", userID).Error("load user for debit")
		respond.Error(w, http.StatusInternalServerError, "generation failed, please retry later")
		return false
	}
	if err != nil || user.Credits < 1 {
		metrics.RecordGeneration("insufficient_credits")
		respond.Error(w, http.StatusForbidden, "insufficient credits, please recharge")
		return false
	}

	note := "generate svg animation: " + truncateRunes(prompt, notePromptRunes)
	if _, err := h.credits.Adjust(r.Context(), userID, -1, models.TxUse, note); err != nil {
		if errors.Is(err, storage.ErrInsufficientBalance) {
			metrics.RecordGeneration("insufficient_credits")
			respond.Error(w, http.StatusForbidden, "insufficient credits, please recharge")
			return false
		}
		h.log.WithError(err).WithField("user_id", userID).Error("debit generation credit")
		respond.Error(w, http.StatusInternalServerError, "generation failed, please retry later")
		return false
	}
	return true
}

// allowAnonymous applies the per-IP limit. Limiter backend failures fail
// open: a broken Redis must not take the endpoint down.
func (h *GenerateHandler) allowAnonymous(r *http.Request) bool {
	allowed, err := h.limiter.Allow(r.Context(), clientIP(r))
	if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
		h.log.WithError(err).Warn("rate limiter check failed")
		return true
	}
	return allowed
}

// relay forwards fragments to the client as they arrive. The request context
// is attached to the upstream call, so a client disconnect cancels the
// upstream read.
func (h *GenerateHandler) relay(w http.ResponseWriter, stream *llm.Stream) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		fragment, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// The stream is already in progress; nothing to do but stop.
				metrics.RecordGeneration("stream_aborted")
				h.log.WithError(err).Warn("generation stream ended early")
				return
			}
			metrics.RecordGeneration("ok")
			return
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			metrics.RecordGeneration("client_gone")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
