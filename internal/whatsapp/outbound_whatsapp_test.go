package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendText_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v18.0/PHONE_ID/messages", r.URL.Path)
		require.Equal(t, "Bearer EAAB-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]any{
			"messaging_product": "whatsapp",
			"to":                "15551234567",
			"type":              "text",
			"text":              map[string]any{"body": "hello"},
		}, body)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	o := NewOutbound("EAAB-token", "PHONE_ID", WithBaseURL(srv.URL+"/"), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, o.SendText(context.Background(), "15551234567", "hello"))
}

func TestSendText_NonOKStatus(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusUnauthorized, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		o := NewOutbound("EAAB-token", "PHONE_ID", WithBaseURL(srv.URL), WithAPIVersion("v19.0"))
		err := o.SendText(context.Background(), "1", "x")
		srv.Close()

		var statusErr *HTTPStatusError
		require.True(t, errors.As(err, &statusErr), "status=%d", status)
		require.Equal(t, status, statusErr.HTTPStatusCode())
		require.Contains(t, statusErr.URL, "/v19.0/PHONE_ID/messages")
		require.Contains(t, err.Error(), "nope")
	}
}

func TestSendText_NotConfigured(t *testing.T) {
	require.ErrorIs(t, NewOutbound("", "PHONE_ID").SendText(context.Background(), "1", "x"), ErrNotConfigured)
	require.ErrorIs(t, NewOutbound("tok", " ").SendText(context.Background(), "1", "x"), ErrNotConfigured)
}

func TestSendText_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewOutbound("tok", "PHONE_ID", WithBaseURL(url)).SendText(context.Background(), "1", "x")
	require.ErrorContains(t, err, "request failed")
}

func TestPhoneNumberInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v18.0/PHONE_ID", r.URL.Path)
		_, _ = w.Write([]byte(`{"display_phone_number":"+1 555 0100","verified_name":"Relay"}`))
	}))
	defer srv.Close()

	info, err := NewOutbound("tok", "PHONE_ID", WithBaseURL(srv.URL)).PhoneNumberInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Relay", info["verified_name"])
}
