package db

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvloader/internal/apperrors"
)

type capturedRequest struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Body          string
}

type fakeEngine struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   func(r *http.Request) (int, string)
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Body:          string(body),
	})
	f.mu.Unlock()

	code, payload := http.StatusOK, `{"acknowledged":true}`
	if f.status != nil {
		code, payload = f.status(r)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	io.WriteString(w, payload)
}

func newTestStore(t *testing.T, engine *fakeEngine) *ElasticStore {
	t.Helper()
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	store, err := NewElasticStore(NewIngestTarget("places", srv.URL, "admin", "secret"))
	require.NoError(t, err)
	return store
}

func TestIngestTarget(t *testing.T) {
	target := NewIngestTarget("places", "http://localhost:9200/", "admin", "secret")
	assert.Equal(t, "places", target.Index())
	assert.Equal(t, "http://localhost:9200", target.BaseURL())
	assert.Equal(t, "http://localhost:9200/places", target.IndexURL())
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", target.Authorization())

	empty := NewIngestTarget("places", "http://localhost:9200", "admin", "")
	assert.Equal(t, "Basic YWRtaW46", empty.Authorization())
}

func TestCreateIndex(t *testing.T) {
	engine := &fakeEngine{}
	store := newTestStore(t, engine)

	require.NoError(t, store.CreateIndex(context.Background()))

	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/places", req.Path)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", req.Authorization)
	assert.Empty(t, req.Body)
}

func TestCreateIndexFailure(t *testing.T) {
	engine := &fakeEngine{status: func(*http.Request) (int, string) {
		return http.StatusBadRequest, `{"error":{"type":"resource_already_exists_exception"}}`
	}}
	store := newTestStore(t, engine)

	err := store.CreateIndex(context.Background())
	require.ErrorIs(t, err, apperrors.ErrIndexCreation)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Contains(t, appErr.Body, "resource_already_exists_exception")
}

func TestIndexDocument(t *testing.T) {
	engine := &fakeEngine{status: func(*http.Request) (int, string) {
		return http.StatusCreated, `{"result":"created"}`
	}}
	store := newTestStore(t, engine)

	require.NoError(t, store.IndexDocument(context.Background(), []byte(`{"name":"Alice"}`)))

	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/places/_doc", req.Path)
	assert.Equal(t, "application/json", req.ContentType)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", req.Authorization)
	assert.JSONEq(t, `{"name":"Alice"}`, req.Body)
}

func TestIndexDocumentFailureIsRecoverable(t *testing.T) {
	engine := &fakeEngine{status: func(*http.Request) (int, string) {
		return http.StatusInternalServerError, `{"error":"boom"}`
	}}
	store := newTestStore(t, engine)

	err := store.IndexDocument(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, apperrors.ErrDocumentInsert)
	assert.False(t, apperrors.Fatal(err))
	assert.Contains(t, err.Error(), `{"error":"boom"}`)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	store, err := NewElasticStore(NewIngestTarget("places", srv.URL, "admin", "secret"))
	require.NoError(t, err)

	err = store.CreateIndex(context.Background())
	require.ErrorIs(t, err, apperrors.ErrTransport)
	assert.True(t, apperrors.Fatal(err))

	err = store.IndexDocument(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, apperrors.ErrTransport)
}

func TestEndpointWithPathPrefix(t *testing.T) {
	engine := &fakeEngine{}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	store, err := NewElasticStore(NewIngestTarget("places", srv.URL+"/search/", "admin", "secret"))
	require.NoError(t, err)
	require.NoError(t, store.CreateIndex(context.Background()))
	assert.Equal(t, "/search/places", engine.requests[0].Path)
}

func TestInvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"localhost:9200", "ftp://host", "://bad"} {
		_, err := NewElasticStore(NewIngestTarget("places", endpoint, "u", "p"))
		assert.ErrorIs(t, err, apperrors.ErrConfig, endpoint)
	}
}

func TestWithRequestLog(t *testing.T) {
	engine := &fakeEngine{}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	var buf bytes.Buffer
	store, err := NewElasticStore(NewIngestTarget("places", srv.URL, "admin", "secret"), WithRequestLog(&buf))
	require.NoError(t, err)
	require.NoError(t, store.IndexDocument(context.Background(), []byte(`{"name":"Bob"}`)))
	assert.Contains(t, buf.String(), "/places/_doc")
}
