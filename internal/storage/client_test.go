package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	return NewClient(url, "invoices", "test-key", http.DefaultClient, slog.Default())
}

func TestPut_Success(t *testing.T) {
	var gotPath, gotAuth, gotType, gotUpsert string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotUpsert = r.Header.Get("x-upsert")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"invoices/org/file.pdf"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.Put(context.Background(), "org/user/file.pdf", []byte("%PDF-1.4"), PutOptions{
		ContentType: "application/pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, "/object/invoices/org/user/file.pdf", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "application/pdf", gotType)
	assert.Empty(t, gotUpsert, "upsert header must be absent unless requested")
	assert.Equal(t, "%PDF-1.4", string(gotBody))
}

func TestPut_UpsertAndCacheControl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		assert.Equal(t, "max-age=3600", r.Header.Get("Cache-Control"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.Put(context.Background(), "a/b.png", []byte("x"), PutOptions{
		CacheControl: "3600",
		Upsert:       true,
	})
	require.NoError(t, err)
}

func TestPut_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
		{"payload too large", http.StatusRequestEntityTooLarge, ErrQuotaExceeded},
		{"server error", http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			err := client.Put(context.Background(), "a/b.pdf", []byte("x"), PutOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Message, "nope")
		})
	}
}

func TestList_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/object/list/invoices", r.URL.Path)

		var req listRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "org/user", req.Prefix)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[
			{"name":"1700000000000_abcd1234_inv.pdf","id":"1","metadata":{"size":2048,"mimetype":"application/pdf"}},
			{"name":"other.png","id":"2","metadata":{"size":100,"mimetype":"image/png"}}
		]`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	entries, err := client.List(context.Background(), "org/user")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1700000000000_abcd1234_inv.pdf", entries[0].Name)
	assert.Equal(t, int64(2048), entries[0].Metadata.Size)
}

func TestRemove_SendsPrefixes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/object/invoices", r.URL.Path)

		var req removeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"org/user/a.pdf", "org/user/b.pdf"}, req.Prefixes)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.Remove(context.Background(), "org/user/a.pdf", "org/user/b.pdf")
	require.NoError(t, err)
}

func TestPublicURL_IsLocalConstruction(t *testing.T) {
	client := newTestClient(t, "https://example.test/storage/v1")
	got := client.PublicURL("org/user/my file.pdf")
	assert.Equal(t, "https://example.test/storage/v1/object/public/invoices/org/user/my%20file.pdf", got)
}

func TestResolvePublic_HeadProbe(t *testing.T) {
	var gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	url, err := client.ResolvePublic(context.Background(), "org/user/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, gotMethod)
	assert.Equal(t, srv.URL+"/object/public/invoices/org/user/a.pdf", url)
}

func TestResolvePublic_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ResolvePublic(context.Background(), "org/user/a.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/object/sign/invoices/org/user/a.pdf", r.URL.Path)

		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 900, req.ExpiresIn)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"signedURL":"/object/sign/invoices/org/user/a.pdf?token=xyz"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	url, err := client.SignedURL(context.Background(), "org/user/a.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/object/sign/invoices/org/user/a.pdf?token=xyz", url)
}

func TestBucketExists(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/bucket/invoices", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"invoices","name":"invoices","public":true}`))
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		ok, err := client.BucketExists(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		ok, err := client.BucketExists(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		_, err := client.BucketExists(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
