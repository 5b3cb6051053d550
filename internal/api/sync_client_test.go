package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slhuckstead/accountmap/internal/models"
)

func syncRequest() models.SyncRequest {
	return models.SyncRequest{
		RequestID: "req-1",
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestSyncClient_Synchronize(t *testing.T) {
	var got syncRequestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"completed","processed":42}`))
	}))
	defer srv.Close()

	c := NewSyncClient(srv.URL, "key-1", time.Second)
	result, err := c.Synchronize(context.Background(), syncRequest())
	require.NoError(t, err)

	assert.Equal(t, "2024-03-01", got.StartDate)
	assert.Equal(t, "2024-03-31", got.EndDate)
	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, 42, result.Processed)
}

func TestSyncClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded: secret=abc", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSyncClient(srv.URL, "", time.Second).Synchronize(context.Background(), syncRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
	assert.NotContains(t, err.Error(), "secret")
}

func TestSyncClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewSyncClient(srv.URL, "", time.Minute).Synchronize(ctx, syncRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err)
}
