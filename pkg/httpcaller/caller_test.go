package httpcaller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/apierrors"
	"github.com/cedricziel/gluepoint/pkg/secretmask"
)

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(nil)
	resp, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"ok":true}`, resp.Data)
}

func TestDo_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	c := New(nil)
	resp, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "done", resp.Data)
}

func TestDo_NonRetryable4xxFailsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_RateLimitBeyondBudgetFailsWithoutSleeping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(nil)
	start := time.Now()
	_, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	elapsed := time.Since(start)

	require.Error(t, err)
	var rl *apierrors.RateLimitExceeded
	assert.ErrorAs(t, err, &rl)
	assert.Less(t, elapsed, 5*time.Second, "should fail fast rather than sleeping 120s")
}

func TestDo_MasksSecretsInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid token sk-live-secretvalue123"))
	}))
	defer srv.Close()

	masker := secretmask.New()
	masker.Add("sk-live-secretvalue123")
	c := New(masker)

	_, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sk-live-secretvalue123")
	assert.Contains(t, err.Error(), "***")
}

func TestNormalizeAuthorizationHeader(t *testing.T) {
	assert.Equal(t, "Bearer abc", normalizeAuthorizationHeader("Bearer Bearer abc"))

	encoded := normalizeAuthorizationHeader("Basic user:pass")
	assert.True(t, isBase64(encoded[len("Basic "):]))
}
