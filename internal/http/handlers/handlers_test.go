package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xielinshan811-lab/svg-animate/internal/auth"
	"github.com/xielinshan811-lab/svg-animate/internal/credit"
	"github.com/xielinshan811-lab/svg-animate/internal/llm"
	"github.com/xielinshan811-lab/svg-animate/internal/middleware"
	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/ratelimit"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
	"github.com/xielinshan811-lab/svg-animate/internal/storage/memory"
)

type testEnv struct {
	store   *memory.Store
	credits *credit.Service
	tokens  *auth.TokenManager
	server  *httptest.Server
}

// newTestEnv wires the full route surface over the in-memory store, pointing
// the generation client at upstreamURL.
func newTestEnv(t *testing.T, apiKey, upstreamURL string, limiter ratelimit.Limiter) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memory.NewStore()
	credits := credit.NewService(store, log)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	client := llm.NewClient(apiKey, "deepseek-chat", upstreamURL, log)
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(1000, time.Minute)
	}

	authHandler := NewAuthHandler(store, credits, tokens, log)
	userHandler := NewUserHandler(store, credits, log)
	rechargeHandler := NewRechargeHandler(credits, log)
	generateHandler := NewGenerateHandler(store, credits, tokens, client, limiter, log)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/recharge", rechargeHandler.ListPackages).Methods(http.MethodGet)
	api.HandleFunc("/generate", generateHandler.Generate).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(middleware.Auth(tokens))
	protected.HandleFunc("/user", userHandler.Me).Methods(http.MethodGet)
	protected.HandleFunc("/transactions", userHandler.Transactions).Methods(http.MethodGet)
	protected.HandleFunc("/recharge", rechargeHandler.Redeem).Methods(http.MethodPost)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return &testEnv{store: store, credits: credits, tokens: tokens, server: ts}
}

func (e *testEnv) request(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) register(t *testing.T, email, password, name string) models.User {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": password, "name": name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[struct {
		User models.User `json:"user"`
	}](t, resp)
	return body.User
}

func (e *testEnv) login(t *testing.T, email, password string) (models.User, string) {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}](t, resp)
	return body.User, body.Token
}

func sseUpstream(t *testing.T, fragments ...string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": f}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRegisterGrantsSignupGift(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)

	user := env.register(t, "new@example.com", "hunter2", "")
	assert.Equal(t, "new", user.Name)
	assert.Equal(t, int64(10), user.Credits)
	assert.NotEmpty(t, user.ID)

	entries, err := env.store.ListByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TxGift, entries[0].Type)
	assert.Equal(t, int64(10), entries[0].Amount)
	assert.Equal(t, int64(10), entries[0].Balance)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)

	resp := env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "", "password": ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)

	first := env.register(t, "dup@example.com", "pass-one", "First")

	resp := env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "dup@example.com", "password": "pass-two",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// First registration is untouched and can still log in.
	got, _ := env.login(t, "dup@example.com", "pass-one")
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "First", got.Name)
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	env.register(t, "who@example.com", "correct", "")

	resp := env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "who@example.com", "password": "wrong",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "whatever",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "", "password": "",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	registered := env.register(t, "me@example.com", "secret-pass", "Me")
	_, token := env.login(t, "me@example.com", "secret-pass")

	resp := env.request(t, http.MethodGet, "/api/user", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		User models.User `json:"user"`
	}](t, resp)
	assert.Equal(t, registered.ID, body.User.ID)
	assert.Equal(t, int64(10), body.User.Credits)

	resp = env.request(t, http.MethodGet, "/api/user", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/user", "bogus-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTransactionHistory(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	env.register(t, "hist@example.com", "secret-pass", "")
	_, token := env.login(t, "hist@example.com", "secret-pass")

	resp := env.request(t, http.MethodPost, "/api/recharge", token, map[string]string{"packageId": "basic"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Transactions []models.Transaction `json:"transactions"`
	}](t, resp)
	require.Len(t, body.Transactions, 2)
	assert.Equal(t, models.TxRecharge, body.Transactions[0].Type)
	assert.Equal(t, models.TxGift, body.Transactions[1].Type)
}

func TestListPackages(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)

	resp := env.request(t, http.MethodGet, "/api/recharge", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Packages []models.Package `json:"packages"`
	}](t, resp)
	require.Len(t, body.Packages, 3)
	assert.Equal(t, "standard", body.Packages[1].ID)
	assert.True(t, body.Packages[1].Popular)
}

func TestRedeemStandardPackage(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	user := env.register(t, "buyer@example.com", "secret-pass", "")
	_, token := env.login(t, "buyer@example.com", "secret-pass")

	// Bring the balance to 5 before redeeming.
	_, err := env.credits.Adjust(context.Background(), user.ID, -5, models.TxUse, "burn")
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/api/recharge", token, map[string]string{"packageId": "standard"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Credits int64 `json:"credits"`
		Added   int64 `json:"added"`
	}](t, resp)
	assert.Equal(t, int64(55), body.Credits)
	assert.Equal(t, int64(50), body.Added)

	entries, err := env.store.ListByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.TxRecharge, entries[0].Type)
	assert.Equal(t, int64(50), entries[0].Amount)
	assert.Equal(t, int64(55), entries[0].Balance)
}

func TestRedeemRejections(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	env.register(t, "buyer@example.com", "secret-pass", "")
	_, token := env.login(t, "buyer@example.com", "secret-pass")

	resp := env.request(t, http.MethodPost, "/api/recharge", token, map[string]string{"packageId": "mega"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/recharge", "", map[string]string{"packageId": "basic"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	user := env.register(t, "gen@example.com", "secret-pass", "")
	_, token := env.login(t, "gen@example.com", "secret-pass")

	resp := env.request(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": "   "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No credit touched.
	entries, err := env.store.ListByUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	env := newTestEnv(t, "key", "http://unused", nil)
	user := env.register(t, "poor@example.com", "secret-pass", "")
	_, token := env.login(t, "poor@example.com", "secret-pass")

	_, err := env.credits.Adjust(context.Background(), user.ID, -10, models.TxUse, "drain")
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": "a star"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	got, err := env.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Credits)
}

func TestGenerateAuthenticatedStreamsAndDebits(t *testing.T) {
	upstream := sseUpstream(t, "<svg>", "<circle/>", "</svg>")
	env := newTestEnv(t, "key", upstream.URL, nil)
	user := env.register(t, "gen@example.com", "secret-pass", "")
	_, token := env.login(t, "gen@example.com", "secret-pass")

	resp := env.request(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": "a spinning circle"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<svg><circle/></svg>", string(body))

	got, err := env.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Credits)

	entries, err := env.store.ListByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.TxUse, entries[0].Type)
	assert.Equal(t, int64(-1), entries[0].Amount)
	assert.Contains(t, entries[0].Note, "a spinning circle")
}

func TestGenerateAnonymousIsUnbilled(t *testing.T) {
	upstream := sseUpstream(t, "anon-ok")
	env := newTestEnv(t, "key", upstream.URL, nil)
	user := env.register(t, "bystander@example.com", "secret-pass", "")

	resp := env.request(t, http.MethodPost, "/api/generate", "", map[string]string{"prompt": "a moon"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "anon-ok", string(body))

	// Registered user untouched.
	got, err := env.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Credits)
}

func TestGenerateInvalidTokenDegradesToAnonymous(t *testing.T) {
	upstream := sseUpstream(t, "still-ok")
	env := newTestEnv(t, "key", upstream.URL, nil)
	user := env.register(t, "expired@example.com", "secret-pass", "")

	resp := env.request(t, http.MethodPost, "/api/generate", "not-a-valid-token", map[string]string{"prompt": "a sun"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := env.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Credits)
}

func TestGenerateAnonymousRateLimited(t *testing.T) {
	upstream := sseUpstream(t, "x")
	env := newTestEnv(t, "key", upstream.URL, ratelimit.NewMemoryLimiter(1, time.Minute))

	resp := env.request(t, http.MethodPost, "/api/generate", "", map[string]string{"prompt": "one"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/generate", "", map[string]string{"prompt": "two"})
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGenerateNoteTruncatedToFiftyRunes(t *testing.T) {
	upstream := sseUpstream(t, "<svg/>")
	env := newTestEnv(t, "key", upstream.URL, nil)
	user := env.register(t, "long@example.com", "secret-pass", "")
	_, token := env.login(t, "long@example.com", "secret-pass")

	// Multibyte prompt longer than the note budget: the ledger note must
	// carry exactly the first 50 runes, not 50 bytes.
	prompt := strings.Repeat("星", 60)
	resp := env.request(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": prompt})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := env.store.ListByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.TxUse, entries[0].Type)
	assert.Equal(t, "generate svg animation: "+strings.Repeat("星", 50), entries[0].Note)
}

// faultyUserStore simulates a storage backend outage on user lookups.
type faultyUserStore struct {
	err error
}

func (f faultyUserStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	return models.User{}, f.err
}

func (f faultyUserStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return models.User{}, f.err
}

func (f faultyUserStore) FindByID(ctx context.Context, id string) (models.User, error) {
	return models.User{}, f.err
}

func TestGenerateStorageFailureIsNotInsufficientCredits(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	backing := memory.NewStore()
	credits := credit.NewService(backing, log)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	client := llm.NewClient("key", "deepseek-chat", "http://unused", log)
	limiter := ratelimit.NewMemoryLimiter(1000, time.Minute)

	broken := faultyUserStore{err: fmt.Errorf("dial tcp: connection refused")}
	handler := NewGenerateHandler(broken, credits, tokens, client, limiter, log)

	token, err := tokens.Issue(models.User{ID: "someone", Email: "s@example.com"})
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"prompt":"a star"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.Generate(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// A deleted user, by contrast, still maps to the forbidden path.
	gone := faultyUserStore{err: storage.ErrNotFound}
	handler = NewGenerateHandler(gone, credits, tokens, client, limiter, log)
	req = httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString(`{"prompt":"a star"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()

	handler.Generate(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGenerateMissingAPIKeyDebitsWithoutRefund(t *testing.T) {
	env := newTestEnv(t, "", "http://unused", nil)
	user := env.register(t, "unlucky@example.com", "secret-pass", "")
	_, token := env.login(t, "unlucky@example.com", "secret-pass")

	resp := env.request(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": "a comet"})
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The debit happens before the upstream call and is not compensated.
	got, err := env.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Credits)
}
