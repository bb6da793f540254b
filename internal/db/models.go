package db

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
)

// IngestTarget is the fixed destination of one run: the index, the search
// engine base URL and the Authorization value sent with every request.
type IngestTarget struct {
	index         string
	baseURL       string
	authorization string
}

func NewIngestTarget(index, endpoint, username, password string) IngestTarget {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return IngestTarget{
		index:         index,
		baseURL:       strings.TrimRight(endpoint, "/"),
		authorization: "Basic " + token,
	}
}

func (t IngestTarget) Index() string {
	return t.index
}

func (t IngestTarget) BaseURL() string {
	return t.baseURL
}

// IndexURL is the address of the index itself, {endpoint}/{index}.
func (t IngestTarget) IndexURL() string {
	return t.baseURL + "/" + t.index
}

func (t IngestTarget) Authorization() string {
	return t.authorization
}

// header returns a fresh header set per request; esapi may add to it.
func (t IngestTarget) header() http.Header {
	return http.Header{"Authorization": []string{t.authorization}}
}

// Store is the write side of the search engine used by the loader.
type Store interface {
	// CreateIndex creates the target index. A non-2xx answer is an
	// apperrors.ErrIndexCreation error.
	CreateIndex(ctx context.Context) error
	// IndexDocument stores one JSON document under an engine-assigned ID. A
	// non-2xx answer is an apperrors.ErrDocumentInsert error and the run may
	// continue; any other error is fatal.
	IndexDocument(ctx context.Context, body []byte) error
}
