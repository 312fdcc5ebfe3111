package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-playground/assert/v2"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/envelope"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/observer"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/push"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/store"
)

type noopNotifier struct{}

func (noopNotifier) NotifySubscriptionChange(context.Context, string, []string, []string) {}

type recordingSender struct {
	endpoints []string
}

func (s *recordingSender) Send(_ context.Context, ep models.PushEndpoint, _ []byte) (push.Result, error) {
	s.endpoints = append(s.endpoints, ep.Subscription.Endpoint)
	return push.Result{}, nil
}

type apiTest struct {
	handler *Handler
	sender  *recordingSender
	hosts   *store.HostDataStore
}

func newAPITest() *apiTest {
	kv := store.NewMemoryStore()
	sender := &recordingSender{}
	svc := observer.NewService(kv, kv, noopNotifier{}, sender, nil)
	return &apiTest{
		handler: NewHandler(svc),
		sender:  sender,
		hosts:   store.NewHostDataStore(kv),
	}
}

func (a *apiTest) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/?api", strings.NewReader(body))
	w := httptest.NewRecorder()
	a.handler.APIHandler(w, r)
	return w
}

func (a *apiTest) call(t *testing.T, method string, args map[string]any) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"method":  method,
		"args":    args,
		"options": map[string]any{},
	})
	assert.Equal(t, err, nil)

	w := a.post(t, string(body))
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, w.Header().Get("Access-Control-Allow-Origin"), "*")

	var resp map[string]any
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &resp), nil)
	return resp
}

func TestInvalidRequestData(t *testing.T) {
	a := newAPITest()
	for _, body := range []string{
		"",
		"not json",
		`{}`,
		`{"method":"user.changes.signup"}`,
		`{"method":"user.changes.signup","args":{}}`,
		`{"method":"","args":{},"options":{}}`,
		`{"args":{},"options":{}}`,
	} {
		w := a.post(t, body)
		var resp map[string]any
		assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &resp), nil)
		assert.Equal(t, resp["status"], "invalidRequestData")
	}
}

func TestUnknownMethod(t *testing.T) {
	a := newAPITest()
	resp := a.call(t, "no.such.method", map[string]any{})
	assert.Equal(t, resp["status"], "error")
	assert.Equal(t, resp["code"], "invalidEndpoint")
}

func TestRequiresAPIQueryFlag(t *testing.T) {
	a := newAPITest()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	a.handler.APIHandler(w, r)
	assert.Equal(t, w.Code, http.StatusNotFound)

	r = httptest.NewRequest(http.MethodGet, "/?api", nil)
	w = httptest.NewRecorder()
	a.handler.APIHandler(w, r)
	assert.Equal(t, w.Code, http.StatusMethodNotAllowed)
}

func TestSignupAndUpdateSubscriptions(t *testing.T) {
	ctx := context.Background()
	a := newAPITest()

	resp := a.call(t, "user.changes.signup", map[string]any{
		"userID":        "userA",
		"subscriptions": map[string][]string{"h1.example.com": {"k1"}},
	})
	assert.Equal(t, resp["status"], "ok")
	assert.Equal(t, resp["result"], map[string]any{"status": "ok"})

	data, err := a.hosts.Get(ctx, "h1.example.com")
	assert.Equal(t, err, nil)
	assert.Equal(t, data.Keys["k1"], []int{0})

	resp = a.call(t, "user.changes.updateSubscriptions", map[string]any{
		"userID":    "userA",
		"keysToAdd": map[string][]string{"h1.example.com": {"k2"}},
	})
	assert.Equal(t, resp["status"], "ok")

	data, _ = a.hosts.Get(ctx, "h1.example.com")
	assert.Equal(t, data.Keys["k2"], []int{0})
}

func TestUpdateSubscriptionsClearAllForms(t *testing.T) {
	ctx := context.Background()
	for _, keysToRemove := range []any{
		[]string{"*"},
		map[string][]string{"*": {}},
	} {
		a := newAPITest()
		a.call(t, "user.changes.signup", map[string]any{
			"userID":        "userA",
			"subscriptions": map[string][]string{"h1.example.com": {"k1"}},
		})

		resp := a.call(t, "user.changes.updateSubscriptions", map[string]any{
			"userID":       "userA",
			"keysToRemove": keysToRemove,
		})
		assert.Equal(t, resp["status"], "ok")

		data, _ := a.hosts.Get(ctx, "h1.example.com")
		assert.Equal(t, data.IsEmpty(), true)
	}
}

func TestUserNotFound(t *testing.T) {
	a := newAPITest()
	for _, method := range []string{
		"user.changes.addPushSubscription",
		"user.changes.delete",
		"user.changes.updateSubscriptions",
	} {
		resp := a.call(t, method, map[string]any{
			"userID":           "ghost",
			"sessionID":        "s1",
			"pushSubscription": "blob",
		})
		assert.Equal(t, resp["status"], "error")
		assert.Equal(t, resp["code"], "userNotFound")
	}
}

func TestColonKeysRejected(t *testing.T) {
	a := newAPITest()
	resp := a.call(t, "user.changes.signup", map[string]any{
		"userID":        "userA",
		"subscriptions": map[string][]string{"h1.example.com": {"bad:key"}},
	})
	assert.Equal(t, resp["status"], "error")
	assert.Equal(t, resp["code"], "invalidArguments")
}

func TestMissingRequiredArgument(t *testing.T) {
	a := newAPITest()
	resp := a.call(t, "user.changes.signup", map[string]any{})
	assert.Equal(t, resp["status"], "error")
	assert.Equal(t, resp["code"], "invalidArguments")

	resp = a.call(t, "host.changes.notify", map[string]any{"host": "h1.example.com"})
	assert.Equal(t, resp["status"], "error")
	assert.Equal(t, resp["code"], "invalidArguments")
}

func TestHostChangesNotifyFlushesQueue(t *testing.T) {
	a := newAPITest()

	blob, err := envelope.Pack(envelope.TagPushEndpoint, models.PushEndpoint{
		Subscription: webpush.Subscription{
			Endpoint: "https://push.example/one",
			Keys:     webpush.Keys{Auth: "auth", P256dh: "p256dh"},
		},
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
	})
	assert.Equal(t, err, nil)

	a.call(t, "user.changes.signup", map[string]any{
		"userID":           "userA",
		"subscriptions":    map[string][]string{"h1.example.com": {"k1"}},
		"sessionID":        "s1",
		"pushSubscription": blob,
	})

	resp := a.call(t, "host.changes.notify", map[string]any{
		"host": "h1.example.com",
		"keys": []string{"k1"},
	})
	assert.Equal(t, resp["status"], "ok")
	assert.Equal(t, a.sender.endpoints, []string{"https://push.example/one"})

	// keys nobody observes deliver nothing
	a.sender.endpoints = nil
	resp = a.call(t, "host.changes.notify", map[string]any{
		"host": "h1.example.com",
		"keys": []string{"other"},
	})
	assert.Equal(t, resp["status"], "ok")
	assert.Equal(t, len(a.sender.endpoints), 0)
}

func TestPreflight(t *testing.T) {
	a := newAPITest()

	r := httptest.NewRequest(http.MethodOptions, "/?api", nil)
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	a.handler.APIHandler(w, r)
	assert.Equal(t, w.Code, http.StatusNoContent)
	assert.Equal(t, w.Header().Get("Access-Control-Allow-Origin"), "*")
	assert.Equal(t, w.Header().Get("Access-Control-Allow-Methods"), "POST,GET,OPTIONS")
	assert.Equal(t, w.Header().Get("X-Robots-Tag"), "noindex,nofollow")

	// preflight for anything but POST is refused
	r = httptest.NewRequest(http.MethodOptions, "/?api", nil)
	w = httptest.NewRecorder()
	a.handler.APIHandler(w, r)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRemovalKeysMapForms(t *testing.T) {
	parse := func(raw string) args {
		return args{"keysToRemove": json.RawMessage(raw)}
	}

	m, clearAll, err := parse(`["*"]`).removalKeysMap("keysToRemove")
	assert.Equal(t, err, nil)
	assert.Equal(t, clearAll, true)
	assert.Equal(t, len(m), 0)

	m, clearAll, err = parse(`{"*":[]}`).removalKeysMap("keysToRemove")
	assert.Equal(t, err, nil)
	assert.Equal(t, clearAll, true)

	m, clearAll, err = parse(`{"h1.example.com":["k1"]}`).removalKeysMap("keysToRemove")
	assert.Equal(t, err, nil)
	assert.Equal(t, clearAll, false)
	assert.Equal(t, m, map[string][]string{"h1.example.com": {"k1"}})

	_, clearAll, err = parse(`[]`).removalKeysMap("keysToRemove")
	assert.Equal(t, err, nil)
	assert.Equal(t, clearAll, false)

	_, _, err = parse(`["k1"]`).removalKeysMap("keysToRemove")
	assert.NotEqual(t, err, nil)

	_, _, err = parse(`{"h1.example.com":["a:b"]}`).removalKeysMap("keysToRemove")
	assert.NotEqual(t, err, nil)

	_, clearAll, err = args{}.removalKeysMap("keysToRemove")
	assert.Equal(t, err, nil)
	assert.Equal(t, clearAll, false)
}
