package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type dispatched struct {
	identity string
	text     string
}

type fakeDispatcher struct {
	mu  sync.Mutex
	got []dispatched
	err error
}

func (f *fakeDispatcher) Handle(_ context.Context, identity, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, dispatched{identity: identity, text: text})
	return f.err
}

func newTestRouter(t *testing.T, d Dispatcher) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler("mybot123", d, nil))
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVerifyWebhook(t *testing.T) {
	h := newTestRouter(t, &fakeDispatcher{})
	target := "/webhook?hub.mode=subscribe&hub.verify_token=mybot123&hub.challenge=1158201444"

	for i := 0; i < 3; i++ {
		rec := serve(h, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "1158201444", rec.Body.String())
	}
}

func TestVerifyWebhook_Rejected(t *testing.T) {
	h := newTestRouter(t, &fakeDispatcher{})

	for _, target := range []string{
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"/webhook?hub.mode=unsubscribe&hub.verify_token=mybot123&hub.challenge=1",
		"/webhook",
	} {
		rec := serve(h, http.MethodGet, target, "")
		require.Equal(t, http.StatusForbidden, rec.Code, target)
	}
}

func TestVerifyWebhook_EmptyConfiguredToken(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler("", &fakeDispatcher{}, nil))

	rec := serve(r, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

const twoMessages = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"id": "wamid.1", "from": "15551234567", "type": "text", "text": {"body": "hi"}},
          {"id": "wamid.2", "from": "15557654321", "type": "text", "text": {"body": "there"}}
        ]
      }
    }]
  }]
}`

func TestHandleWebhook_DispatchesEachTextMessage(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestRouter(t, d)

	rec := serve(h, http.MethodPost, "/webhook", twoMessages)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success"}`, rec.Body.String())
	require.Equal(t, []dispatched{
		{identity: "15551234567", text: "hi"},
		{identity: "15557654321", text: "there"},
	}, d.got)
}

func TestHandleWebhook_SkipsEmptyOrMissingBodies(t *testing.T) {
	payloads := []string{
		`{}`,
		`{"entry": []}`,
		`{"entry": [{}]}`,
		`{"entry": [{"changes": [{}]}]}`,
		`{"entry": [{"changes": [{"value": {"statuses": [{"id": "wamid.9", "status": "read"}]}}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": [{"from": "1555", "type": "image"}]}}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": [{"from": "1555", "type": "text", "text": {"body": ""}}]}}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": [{"type": "text", "text": {"body": "no sender"}}]}}]}]}`,
	}
	for _, p := range payloads {
		d := &fakeDispatcher{}
		rec := serve(newTestRouter(t, d), http.MethodPost, "/webhook", p)
		require.Equal(t, http.StatusOK, rec.Code, p)
		require.JSONEq(t, `{"status":"success"}`, rec.Body.String(), p)
		require.Empty(t, d.got, p)
	}
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	for _, p := range []string{``, `not json`, `{"entry": "oops"}`} {
		d := &fakeDispatcher{}
		rec := serve(newTestRouter(t, d), http.MethodPost, "/webhook", p)
		require.Equal(t, http.StatusInternalServerError, rec.Code, p)
		require.JSONEq(t, `{"status":"error"}`, rec.Body.String(), p)
		require.Empty(t, d.got, p)
	}
}

func TestHandleWebhook_IgnoresRedelivery(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestRouter(t, d)

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/webhook", twoMessages).Code)
	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/webhook", twoMessages).Code)
	require.Len(t, d.got, 2)
}

func TestHandleWebhook_DispatchErrorStillAcknowledges(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("pool closed")}
	rec := serve(newTestRouter(t, d), http.MethodPost, "/webhook", twoMessages)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.got, 2)
}

// failOnce rejects its first dispatch, like a full queue whose request
// context ran out.
type failOnce struct {
	fakeDispatcher
	calls int
}

func (f *failOnce) Handle(ctx context.Context, identity, text string) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		return context.DeadlineExceeded
	}
	return f.fakeDispatcher.Handle(ctx, identity, text)
}

func TestHandleWebhook_RedeliveryAfterFailedDispatch(t *testing.T) {
	const one = `{"entry":[{"changes":[{"value":{"messages":[
		{"id":"wamid.1","from":"15551234567","type":"text","text":{"body":"hi"}}
	]}}]}]}`
	d := &failOnce{}
	h := newTestRouter(t, d)

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/webhook", one).Code)
	require.Empty(t, d.got)

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/webhook", one).Code)
	require.Equal(t, []dispatched{{identity: "15551234567", text: "hi"}}, d.got)
	require.Equal(t, 2, d.calls)

	// accepted now, so a third delivery is a duplicate
	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/webhook", one).Code)
	require.Equal(t, 2, d.calls)
}
