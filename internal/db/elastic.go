package db

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"csvloader/internal/apperrors"
)

// ElasticStore talks to an Elasticsearch or OpenSearch node through the esapi
// request types. It uses the bare transport rather than elasticsearch.Client
// so that OpenSearch, which fails the client's product check, is accepted.
type ElasticStore struct {
	target    IngestTarget
	transport esapi.Transport
}

type storeOptions struct {
	roundTripper http.RoundTripper
	logger       elastictransport.Logger
}

// Option configures NewElasticStore.
type Option func(*storeOptions)

// WithRoundTripper replaces the HTTP transport, http.DefaultTransport by
// default.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *storeOptions) {
		o.roundTripper = rt
	}
}

// WithRequestLog writes every request and response, bodies included, to w.
func WithRequestLog(w io.Writer) Option {
	return func(o *storeOptions) {
		o.logger = &elastictransport.TextLogger{
			Output:             w,
			EnableRequestBody:  true,
			EnableResponseBody: true,
		}
	}
}

func NewElasticStore(target IngestTarget, opts ...Option) (*ElasticStore, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(target.BaseURL())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, err, "parsing endpoint")
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrConfig, "endpoint %q must be an http(s) URL", target.BaseURL())
	}

	// No retries: every request is attempted exactly once.
	tp, err := elastictransport.New(elastictransport.Config{
		URLs:         []*url.URL{u},
		DisableRetry: true,
		Transport:    o.roundTripper,
		Logger:       o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating search engine transport: %w", err)
	}
	return &ElasticStore{target: target, transport: tp}, nil
}

func (store *ElasticStore) CreateIndex(ctx context.Context) error {
	req := esapi.IndicesCreateRequest{
		Index:  store.target.Index(),
		Header: store.target.header(),
	}
	res, err := req.Do(ctx, store.transport)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, err, "PUT "+store.target.IndexURL())
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.FromResponse(apperrors.ErrIndexCreation,
			"creating index "+store.target.Index(), res.StatusCode, readBody(res))
	}
	return nil
}

func (store *ElasticStore) IndexDocument(ctx context.Context, body []byte) error {
	req := esapi.IndexRequest{
		Index:  store.target.Index(),
		Body:   bytes.NewReader(body),
		Header: store.target.header(),
	}
	res, err := req.Do(ctx, store.transport)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, err, "POST "+store.target.IndexURL()+"/_doc")
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.FromResponse(apperrors.ErrDocumentInsert,
			"indexing into "+store.target.Index(), res.StatusCode, readBody(res))
	}
	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func readBody(res *esapi.Response) string {
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Sprintf("<unreadable response body: %s>", err)
	}
	return string(b)
}
