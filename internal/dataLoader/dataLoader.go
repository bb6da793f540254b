package dataloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"csvloader/internal/apperrors"
	"csvloader/internal/db"
	"csvloader/internal/metrics"
)

// RowSource yields data rows until io.EOF. *Reader implements it.
type RowSource interface {
	Next() (Row, error)
}

// RowResult is the outcome of one insertion: Err is nil on success and an
// apperrors.ErrDocumentInsert error otherwise.
type RowResult struct {
	Row  int
	Line int
	Err  error
}

func (r RowResult) OK() bool {
	return r.Err == nil
}

// Report collects the per-row outcomes of a run.
type Report struct {
	Index        string
	IndexCreated bool
	Results      []RowResult
	Attempted    int
	Indexed      int
	Failed       int
	Started      time.Time
	Duration     time.Duration
}

func (r *Report) Failures() []RowResult {
	var failed []RowResult
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Summary is the one-line result printed at the end of a run.
func (r *Report) Summary() string {
	dur := r.Duration.Truncate(time.Millisecond)
	rate := int64(0)
	if ms := r.Duration.Milliseconds(); ms > 0 {
		rate = int64(1000.0 / float64(ms) * float64(r.Indexed))
	}
	if r.Failed > 0 {
		return fmt.Sprintf("Indexed [%s] documents with [%s] errors in %s (%s docs/sec)",
			humanize.Comma(int64(r.Indexed)),
			humanize.Comma(int64(r.Failed)),
			dur,
			humanize.Comma(rate),
		)
	}
	return fmt.Sprintf("Successfully indexed [%s] documents in %s (%s docs/sec)",
		humanize.Comma(int64(r.Indexed)),
		dur,
		humanize.Comma(rate),
	)
}

// Loader creates the index and then inserts one document per row, strictly
// in order. Insert failures are logged and recorded; every other error ends
// the run.
type Loader struct {
	store   db.Store
	index   string
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// LoaderOption configures NewLoader.
type LoaderOption func(*Loader)

func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = m
	}
}

func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

func NewLoader(store db.Store, index string, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:  store,
		index:  index,
		logger: slog.Default().With("component", "loader"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the whole load. The returned Report is never nil and holds
// whatever was done before a fatal error.
func (l *Loader) Run(ctx context.Context, rows RowSource) (*Report, error) {
	report := &Report{Index: l.index, Started: l.now().UTC()}
	err := l.run(ctx, rows, report)
	report.Duration = l.now().Sub(report.Started)
	return report, err
}

func (l *Loader) run(ctx context.Context, rows RowSource, report *Report) error {
	start := l.now()
	err := l.store.CreateIndex(ctx)
	l.observe("create_index", start)
	if err != nil {
		l.logger.Error("failed to create index", "index", l.index, "error", err)
		return err
	}
	report.IndexCreated = true
	l.logger.Info("index created successfully", "index", l.index)

	for {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrTransport, err, "run interrupted")
		}
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			l.logger.Error("failed to read csv", "index", l.index, "error", err)
			return err
		}

		body, err := json.Marshal(row.Document())
		if err != nil {
			return apperrors.Wrap(apperrors.ErrParse, err, fmt.Sprintf("encoding row %d", row.Number))
		}

		report.Attempted++
		start := l.now()
		err = l.store.IndexDocument(ctx, body)
		l.observe("index_document", start)
		switch {
		case err == nil:
			report.Indexed++
			report.Results = append(report.Results, RowResult{Row: row.Number, Line: row.Line})
			if l.metrics != nil {
				l.metrics.DocsIndexedTotal.Inc()
			}
			l.logger.Debug("document indexed", "index", l.index, "row", row.Number)
		case !apperrors.Fatal(err):
			report.Failed++
			report.Results = append(report.Results, RowResult{Row: row.Number, Line: row.Line, Err: err})
			if l.metrics != nil {
				l.metrics.DocsFailedTotal.Inc()
			}
			l.logInsertFailure(row, err)
		default:
			l.logger.Error("failed to index document", "index", l.index, "row", row.Number, "error", err)
			return err
		}
	}
}

func (l *Loader) logInsertFailure(row Row, err error) {
	attrs := []any{"index", l.index, "row", row.Number, "line", row.Line}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		attrs = append(attrs, "status", appErr.StatusCode, "response", appErr.Body)
	} else {
		attrs = append(attrs, "error", err)
	}
	l.logger.Warn("failed to index document", attrs...)
}

func (l *Loader) observe(operation string, start time.Time) {
	if l.metrics == nil {
		return
	}
	l.metrics.RequestDuration.WithLabelValues(operation).Observe(l.now().Sub(start).Seconds())
}
