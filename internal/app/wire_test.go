package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunevault/platform/internal/auth"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/infra"
	"github.com/tunevault/platform/internal/provider"
	"github.com/tunevault/platform/internal/store/memory"
)

const webhookSecret = "whsec_wire"

// fakeStripe serves the two PaymentIntent endpoints the gateway uses.
type fakeStripe struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*provider.PaymentIntent
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/payment_intents":
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.seq++
		amount, _ := strconv.ParseInt(r.PostForm.Get("amount"), 10, 64)
		meta := map[string]string{}
		for k, v := range r.PostForm {
			if strings.HasPrefix(k, "metadata[") {
				meta[strings.TrimSuffix(strings.TrimPrefix(k, "metadata["), "]")] = v[0]
			}
		}
		intent := &provider.PaymentIntent{
			ID:           fmt.Sprintf("pi_wire_%d", f.seq),
			ClientSecret: fmt.Sprintf("pi_wire_%d_secret", f.seq),
			Amount:       amount,
			Currency:     r.PostForm.Get("currency"),
			Status:       "requires_payment_method",
			Metadata:     meta,
		}
		f.intents[intent.ID] = intent
		json.NewEncoder(w).Encode(intent)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/payment_intents/"):
		intent, ok := f.intents[strings.TrimPrefix(r.URL.Path, "/payment_intents/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`)
			return
		}
		json.NewEncoder(w).Encode(intent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// pay simulates the listener completing the payment in the browser.
func (f *fakeStripe) pay(id string) *provider.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent := f.intents[id]
	intent.Status = "succeeded"
	intent.AmountReceived = intent.Amount
	cp := *intent
	return &cp
}

type testEnv struct {
	srv    *httptest.Server
	app    *App
	stripe *fakeStripe
	store  *memory.Store
	jwt    *auth.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stripe := &fakeStripe{intents: make(map[string]*provider.PaymentIntent)}
	stripeSrv := httptest.NewServer(stripe)
	t.Cleanup(stripeSrv.Close)

	st := memory.New()
	jwtMgr := auth.NewJWTManager("wire-secret", time.Hour, time.Hour)
	app := NewRouter(RouterDeps{
		Config: &infra.Config{
			PaymentCurrency:     "usd",
			GatewayTimeout:      2 * time.Second,
			FinalizeMaxAttempts: 3,
			PurchaseRateLimit:   100,
			CORSAllowedOrigins:  "*",
		},
		Store:    st,
		Stripe:   provider.NewStripeProvider("sk_test", webhookSecret, provider.WithBaseURL(stripeSrv.URL)),
		JWTMgr:   jwtMgr,
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, app: app, stripe: stripe, store: st, jwt: jwtMgr}
}

func (e *testEnv) track(t *testing.T, price string) *domain.Track {
	t.Helper()
	tr := &domain.Track{
		ID:          uuid.New(),
		Title:       "Song",
		Artist:      "Band",
		Price:       decimal.RequireFromString(price),
		Active:      true,
		AudioFile:   "song.mp3",
		PreviewFile: "song-preview.mp3",
	}
	require.NoError(t, e.store.Seed(context.Background(), tr))
	return tr
}

func (e *testEnv) token(t *testing.T, realm auth.Realm, subject uuid.UUID, role string) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken(realm, subject, "", role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestCheckoutFlow(t *testing.T) {
	e := newTestEnv(t)
	user := uuid.New()
	tok := e.token(t, auth.RealmListener, user, "")
	a := e.track(t, "1.99")
	b := e.track(t, "2.49")

	status, _ := e.do(t, http.MethodPost, "/cart/items", tok, map[string]string{"track_id": a.ID.String()})
	require.Equal(t, http.StatusCreated, status)
	status, _ = e.do(t, http.MethodPost, "/cart/items", tok, map[string]string{"track_id": b.ID.String()})
	require.Equal(t, http.StatusCreated, status)

	status, body := e.do(t, http.MethodPost, "/cart/items", tok, map[string]string{"track_id": a.ID.String()})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.CodeAlreadyInCart, body["code"])

	status, cart := e.do(t, http.MethodGet, "/cart", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "4.48", cart["total"])
	assert.Equal(t, float64(2), cart["item_count"])

	status, intent := e.do(t, http.MethodPost, "/purchases/intent", tok, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(448), intent["amount"])
	providerID := intent["provider_id"].(string)

	// Not paid yet.
	status, body = e.do(t, http.MethodPost, "/purchases/finalize", tok, map[string]string{"provider_id": providerID})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, domain.CodePaymentNotCompleted, body["code"])

	e.stripe.pay(providerID)

	status, result := e.do(t, http.MethodPost, "/purchases/finalize", tok, map[string]string{"provider_id": providerID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, result["replayed"])
	assert.Equal(t, float64(2), result["tracks_entitled"])

	status, replay := e.do(t, http.MethodPost, "/purchases/finalize", tok, map[string]string{"provider_id": providerID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, replay["replayed"])
	assert.Equal(t, result["purchase_id"], replay["purchase_id"])

	status, cart = e.do(t, http.MethodGet, "/cart", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), cart["item_count"])

	status, stream := e.do(t, http.MethodGet, "/tracks/"+a.ID.String()+"/stream", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "full", stream["kind"])
	assert.Equal(t, "/uploads/audio/song.mp3", stream["url"])

	status, owned := e.do(t, http.MethodGet, "/tracks/"+b.ID.String()+"/ownership", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, owned["owned"])

	status, library := e.do(t, http.MethodGet, "/library", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, library["entitlements"], 2)

	status, history := e.do(t, http.MethodGet, "/purchases", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, history["purchases"], 1)

	status, body = e.do(t, http.MethodPost, "/cart/items", tok, map[string]string{"track_id": a.ID.String()})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.CodeAlreadyOwned, body["code"])
}

func TestStreamFallsBackToPreview(t *testing.T) {
	e := newTestEnv(t)
	tr := e.track(t, "0.99")
	tok := e.token(t, auth.RealmListener, uuid.New(), "")

	status, stream := e.do(t, http.MethodGet, "/tracks/"+tr.ID.String()+"/stream", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "preview", stream["kind"])

	status, preview := e.do(t, http.MethodGet, "/tracks/"+tr.ID.String()+"/preview", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/uploads/previews/song-preview.mp3", preview["url"])

	status, body := e.do(t, http.MethodGet, "/tracks/not-a-uuid/preview", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, domain.CodeValidation, body["code"])

	e.app.Access.Wait()
}

func TestEmptyCartIntent(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, auth.RealmListener, uuid.New(), "")

	status, body := e.do(t, http.MethodPost, "/purchases/intent", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, domain.CodeEmptyCart, body["code"])
}

func TestWebhookFinalizes(t *testing.T) {
	e := newTestEnv(t)
	user := uuid.New()
	tok := e.token(t, auth.RealmListener, user, "")
	tr := e.track(t, "1.00")

	status, _ := e.do(t, http.MethodPost, "/cart/items", tok, map[string]string{"track_id": tr.ID.String()})
	require.Equal(t, http.StatusCreated, status)
	status, intent := e.do(t, http.MethodPost, "/purchases/intent", tok, nil)
	require.Equal(t, http.StatusCreated, status)
	paid := e.stripe.pay(intent["provider_id"].(string))

	object, err := json.Marshal(paid)
	require.NoError(t, err)
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":%s}}`, object))

	post := func(sig string) int {
		req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/webhooks/stripe", bytes.NewReader(payload))
		require.NoError(t, err)
		if sig != "" {
			req.Header.Set("Stripe-Signature", sig)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("t=1,v1=bad"))
	assert.Equal(t, http.StatusOK, post(provider.SignWebhookPayload(webhookSecret, payload, time.Now())))

	status, owned := e.do(t, http.MethodGet, "/tracks/"+tr.ID.String()+"/ownership", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, owned["owned"])
}

func TestAuthBoundaries(t *testing.T) {
	e := newTestEnv(t)
	listener := e.token(t, auth.RealmListener, uuid.New(), "")
	auditor := e.token(t, auth.RealmAdmin, uuid.New(), auth.RoleAuditor)

	status, _ := e.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodGet, "/admin/purchases", listener, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := e.do(t, http.MethodGet, "/admin/purchases", auditor, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["purchases"])

	status, _ = e.do(t, http.MethodGet, "/cart", auditor, nil)
	assert.Equal(t, http.StatusUnauthorized, status, "admin tokens do not act as listeners")

	status, body = e.do(t, http.MethodGet, "/admin/purchases/pi_missing", auditor, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.CodeNotFound, body["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "tunevault_http_requests_total")

	status, body = e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.CodeNotFound, body["code"])
}
