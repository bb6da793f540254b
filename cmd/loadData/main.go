// Command loadData creates a search engine index and loads every row of a CSV
// file into it as a JSON document.
//
// The first CSV record names the fields. Each following record becomes one
// document whose values are all strings, sent with POST {endpoint}/{index}/_doc
// after the index was created with PUT {endpoint}/{index}. Rejected documents
// are reported and skipped; any other failure stops the run.
//
// Usage:
//
//	loadData -i places -f data.csv -u admin -p secret [-e http://localhost:9200]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"csvloader/internal/apperrors"
	"csvloader/internal/config"
	dataloader "csvloader/internal/dataLoader"
	"csvloader/internal/db"
	"csvloader/internal/journal"
	"csvloader/internal/logger"
	"csvloader/internal/metrics"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return apperrors.ExitCode(err)
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "loadData %s\n", version)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return apperrors.ExitCode(err)
	}

	logger.SetupWriter(stdout, cfg.Logging.Level, cfg.Logging.Format)
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.WithComponent(ctx, "loadData")
	log.Debug("configuration loaded", "config", cfg.String())

	m := metrics.New()
	report, err := load(ctx, cfg, m, stderr)
	finish(ctx, cfg, runID, m, report, err)
	if err != nil {
		log.Error("load failed", "index", cfg.Index.Name, "error", err)
		return apperrors.ExitCode(err)
	}
	return 0
}

// load runs the two stages: open and parse the CSV source, then create the
// index and insert the rows.
func load(ctx context.Context, cfg *config.Config, m *metrics.Metrics, stderr io.Writer) (*dataloader.Report, error) {
	report := &dataloader.Report{Index: cfg.Index.Name, Started: time.Now().UTC()}

	target := db.NewIngestTarget(cfg.Index.Name, cfg.Index.Endpoint, cfg.Index.Username, cfg.Index.Password)
	var storeOpts []db.Option
	if cfg.Logging.Level == "debug" {
		storeOpts = append(storeOpts, db.WithRequestLog(stderr))
	}
	store, err := db.NewElasticStore(target, storeOpts...)
	if err != nil {
		return report, err
	}

	src, err := dataloader.OpenSource(ctx, cfg.Source.FilePath, dataloader.SourceOptions{
		AWSRegion:    cfg.Source.AWSRegion,
		AWSAccessKey: cfg.Source.AWSAccessKey,
		AWSSecretKey: cfg.Source.AWSSecretKey,
	})
	if err != nil {
		return report, err
	}
	defer src.Close()

	reader, err := dataloader.NewReader(src, dataloader.ReaderOptions{
		Comma:  cfg.Source.Comma(),
		Strict: cfg.Source.Strict,
	})
	if err != nil {
		return report, err
	}
	logger.WithComponent(ctx, "loadData").Info("csv opened",
		"file", cfg.Source.FilePath,
		"columns", len(reader.Headers()),
	)

	loader := dataloader.NewLoader(store, cfg.Index.Name,
		dataloader.WithMetrics(m),
		dataloader.WithLogger(logger.WithComponent(ctx, "loader")),
	)
	return loader.Run(ctx, reader)
}

// finish reports the run: summary line, metrics push and journal entry.
// Failures here are logged and never change the exit code.
func finish(ctx context.Context, cfg *config.Config, runID string, m *metrics.Metrics, report *dataloader.Report, runErr error) {
	log := logger.WithComponent(ctx, "loadData")
	if report.Duration == 0 {
		report.Duration = time.Since(report.Started)
	}
	if report.IndexCreated {
		log.Info(report.Summary(), "index", report.Index)
	}

	m.LastRunDuration.Set(report.Duration.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
	if runErr == nil {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}

	// Reporting must still happen after an interrupt.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if cfg.Metrics.Pushgateway != "" {
		if err := m.Push(reportCtx, cfg.Metrics.Pushgateway, cfg.Index.Name, nil); err != nil {
			log.Warn("failed to push metrics", "error", err)
		} else {
			log.Debug("metrics pushed", "pushgateway", cfg.Metrics.Pushgateway)
		}
	}

	if cfg.Journal.DSN != "" {
		if err := recordRun(reportCtx, cfg, runID, report, runErr); err != nil {
			log.Warn("failed to record run in journal", "error", err)
		}
	}
}

func recordRun(ctx context.Context, cfg *config.Config, runID string, report *dataloader.Report, runErr error) error {
	j, err := journal.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer j.Close()

	entry := journal.Run{
		ID:         runID,
		Index:      cfg.Index.Name,
		Source:     cfg.Source.FilePath,
		StartedAt:  report.Started,
		FinishedAt: report.Started.Add(report.Duration),
		Attempted:  report.Attempted,
		Indexed:    report.Indexed,
		Failed:     report.Failed,
		Status:     journal.StatusCompleted,
	}
	if runErr != nil {
		entry.Status = journal.StatusFailed
		entry.Error = runErr.Error()
	}
	for _, res := range report.Failures() {
		failure := journal.RowFailure{Row: res.Row, Line: res.Line}
		var appErr *apperrors.Error
		if errors.As(res.Err, &appErr) {
			failure.StatusCode = appErr.StatusCode
			failure.Response = appErr.Body
		} else {
			failure.Response = res.Err.Error()
		}
		entry.Failures = append(entry.Failures, failure)
	}
	if err := j.Record(ctx, entry); err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("run recorded", "journal", cfg.Journal.DSN)
	return nil
}
