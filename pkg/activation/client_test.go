package activation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientRequests(t *testing.T) {
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/verify":
			if body["action"] == "revalidate" {
				_, _ = w.Write([]byte(`{"valid":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"valid":true,"plan":"monthly","token":"tok"}`))
		case "/validate-gift-code":
			_, _ = w.Write([]byte(`{"valid":true,"identifier":"gift:abc","plan":"lifetime","token":"gtok","expiresAt":"2026-12-31T00:00:00Z"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	vr, err := c.Verify(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, VerifyResponse{Valid: true, Plan: "monthly", Token: "tok"}, vr)

	rr, err := c.Revalidate(ctx, "a@example.com", "monthly", "tok")
	require.NoError(t, err)
	assert.True(t, rr.Valid)

	gr, err := c.RedeemGiftCode(ctx, "FRIENDS")
	require.NoError(t, err)
	assert.Equal(t, "gift:abc", gr.Identifier)
	require.NotNil(t, gr.ExpiresAt)

	require.Len(t, bodies, 3)
	assert.Equal(t, map[string]string{"email": "a@example.com"}, bodies[0])
	assert.Equal(t, map[string]string{"action": "revalidate", "email": "a@example.com", "plan": "monthly", "token": "tok"}, bodies[1])
	assert.Equal(t, map[string]string{"code": "FRIENDS"}, bodies[2])
}

func TestHTTPClientFailuresAreUnreachable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Revalidate(context.Background(), "a@example.com", "monthly", "tok")
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).RedeemGiftCode(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := NewHTTPClient(srv.URL, 50*time.Millisecond).Verify(context.Background(), "a@example.com")
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Verify(context.Background(), "a@example.com")
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewHTTPClient(url, time.Second).Verify(context.Background(), "a@example.com")
		assert.ErrorIs(t, err, ErrUnreachable)
	})
}

func TestNewHTTPClientDefaultTimeout(t *testing.T) {
	c := NewHTTPClient("http://localhost", 0)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}
