// ABOUTME: Sync engine that runs the Vanta converter over a record source.
// ABOUTME: Writes destination records to a sink and keeps the latest run for the HTTP surfaces.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/types"
	"github.com/DaYuM/airbyte-connectors/internal/vanta"
)

// RecordSource abstracts where Vanta records come from (export file, ECR, generated)
type RecordSource interface {
	Name() string
	ReadRecords(ctx context.Context) ([]types.InputRecord, error)
}

// Config holds configuration for the sync engine
type Config struct {
	Interval         time.Duration
	Converter        vanta.Config
	ConverterOptions []vanta.Option
}

// RunData is the outcome of one successful run
type RunData struct {
	Source   string
	Records  []types.DestinationRecord
	Report   *vanta.Report
	Started  time.Time
	Finished time.Time
}

// Engine orchestrates one source, one graph client and an optional record sink
type Engine struct {
	source RecordSource
	client graph.Client
	config *Config
	sink   io.Writer
	logger *logrus.Logger

	mutex   sync.RWMutex
	latest  *RunData
	lastErr error
	runs    int
}

// NewEngine creates a new sync engine. A nil sink skips writing records.
func NewEngine(source RecordSource, client graph.Client, config *Config, sink io.Writer, logger *logrus.Logger) *Engine {
	return &Engine{
		source: source,
		client: client,
		config: config,
		sink:   sink,
		logger: logger,
	}
}

// Start runs immediately and then on every interval until ctx is done
func (e *Engine) Start(ctx context.Context) {
	logger := e.logger.WithField("component", "sync_engine")

	if _, err := e.RunOnce(ctx); err != nil {
		logger.WithError(err).Error("Initial sync failed")
	}

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	logger.WithField("interval", e.config.Interval).Info("Starting periodic sync")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sync engine stopping")
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				logger.WithError(err).Error("Sync failed")
			}
		}
	}
}

// RunOnce reads the source, converts every record and writes the output
func (e *Engine) RunOnce(ctx context.Context) (*RunData, error) {
	run, err := e.run(ctx)

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.runs++
	e.lastErr = err
	if err == nil {
		e.latest = run
	}
	return run, err
}

func (e *Engine) run(ctx context.Context) (*RunData, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation": "sync",
		"source":    e.source.Name(),
	})
	started := time.Now()

	logger.Info("Starting Vanta vulnerability sync")

	records, err := e.source.ReadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read records from %s: %w", e.source.Name(), err)
	}

	converter := vanta.NewConverter(e.config.Converter, e.client, e.logger, e.config.ConverterOptions...)
	var out []types.DestinationRecord
	for _, record := range records {
		emitted, err := converter.Convert(record)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %q: %w", converter.ID(record), err)
		}
		out = append(out, emitted...)
	}

	finalized, report, err := converter.Finalize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize conversion: %w", err)
	}
	out = append(out, finalized...)

	if err := e.write(out); err != nil {
		return nil, err
	}

	run := &RunData{
		Source:   e.source.Name(),
		Records:  out,
		Report:   report,
		Started:  started,
		Finished: time.Now(),
	}
	logger.WithFields(logrus.Fields{
		"duration":     run.Finished.Sub(started),
		"records_read": len(records),
		"records_out":  len(out),
	}).Info("Vanta vulnerability sync completed")
	return run, nil
}

// write emits one {"model":...,"record":...} object per line
func (e *Engine) write(records []types.DestinationRecord) error {
	if e.sink == nil {
		return nil
	}
	enc := json.NewEncoder(e.sink)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write %s record: %w", r.Model, err)
		}
	}
	return nil
}

// GetRunData returns the latest successful run, nil before the first one
func (e *Engine) GetRunData() *RunData {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.latest
}

// LastError returns the error of the most recent run
func (e *Engine) LastError() error {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.lastErr
}

// Runs returns how many runs were attempted
func (e *Engine) Runs() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.runs
}
