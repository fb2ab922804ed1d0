package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stowaway/internal/record"
)

type note struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func (n note) RecordID() string { return n.ID }

// fakeService is a minimal record service.
type fakeService struct {
	mu      sync.Mutex
	records map[string]note
	keys    []string
	auth    []string
}

func newFakeService() *fakeService {
	return &fakeService{records: make(map[string]note)}
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, r.Header.Get(IdempotencyHeader))
	s.auth = append(s.auth, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/records:batch":
		var req BatchRequest[note]
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, n := range req.Records {
			s.records[n.ID] = n
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/records:delete":
		var req DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, id := range req.IDs {
			delete(s.records, id)
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Path == "/records":
		resp := ListResponse[note]{Records: []note{}}
		for _, n := range s.records {
			resp.Records = append(resp.Records, n)
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := New[note](srv.URL+"/", "secret")
	ctx := context.Background()

	require.NoError(t, c.SyncBatch(record.WithBatchKey(ctx, "k1"), []note{{ID: "a", Body: "x"}, {ID: "b", Body: "y"}}))
	require.NoError(t, c.DeleteBatch(ctx, []string{"b"}))

	got, err := c.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []note{{ID: "a", Body: "x"}}, got)

	assert.Equal(t, []string{"k1", "", ""}, svc.keys)
	for _, a := range svc.auth {
		assert.Equal(t, "Bearer secret", a)
	}
}

func TestClient_FetchEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	got, err := New[note](srv.URL, "").FetchAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"code":"auth","message":"bad key"}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{"code":"perm","message":"nope"}`, ErrForbidden},
		{"not found", http.StatusNotFound, ``, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New[note](srv.URL, "k").SyncBatch(context.Background(), []note{{ID: "a"}})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ServerErrorCarriesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"overloaded","message":"try later"}`))
	}))
	defer srv.Close()

	err := New[note](srv.URL, "").DeleteBatch(context.Background(), []string{"a"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "overloaded", apiErr.Code)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New[note](srv.URL, "").SyncBatch(context.Background(), nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := New[note](srv.URL, "").SyncBatch(ctx, []note{{ID: "a"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
