// Package ingest provides the analysis pipeline for signaling logs.
// It replays decoded messages through the diagnosis engine and writes
// messages, failures and run totals to store.
package ingest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/kpi"
	"github.com/lteinsight/emmkpi/nas"
	"github.com/lteinsight/emmkpi/pkg/model"
	"github.com/lteinsight/emmkpi/pkg/store"
	"github.com/lteinsight/emmkpi/pkg/store/sqlite"
	"github.com/lteinsight/emmkpi/replay"
)

// Config holds configuration for the analysis pipeline.
type Config struct {
	// LogPath is the path to the JSONL or PDML signaling log.
	LogPath string

	// Diag is the engine configuration. Nil selects the defaults.
	Diag *diag.Config

	// BatchSize is the number of rows per batch commit.
	// Defaults to 500 if <= 0.
	BatchSize int

	// Emitter receives failure events as they are classified, on top
	// of the store writes. Optional.
	Emitter kpi.Emitter

	// Filter drops messages before they reach the engine or the store.
	// Optional; nil keeps everything.
	Filter func(*nas.Message) bool

	// Force reruns the analysis even when the stored results are current.
	Force bool

	// ProgressCallback is called periodically with progress updates.
	ProgressCallback func(processed, total int, elapsed time.Duration)
}

// Result holds the result of an analysis run.
type Result struct {
	StorePath  string
	RunID      string
	Messages   int
	Failures   int
	Incomplete int
	Duration   time.Duration

	// Summary is the full engine accounting, nil when a current
	// analysis was reused.
	Summary *diag.Summary

	// Reused reports that the store already held a current analysis.
	Reused bool
}

// Progress holds progress information during analysis.
type Progress struct {
	Processed int
	Total     int
	Elapsed   time.Duration
}

// Pipeline is the main analysis pipeline.
type Pipeline struct {
	cfg    Config
	store  *sqlite.SQLiteStore
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64
}

// New creates a new analysis pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run executes the analysis pipeline.
func (p *Pipeline) Run() (*Result, error) {
	startTime := time.Now()
	result := &Result{
		StorePath: p.cfg.LogPath + ".kpi.db",
	}

	// Check if log file exists
	fileInfo, err := os.Stat(p.cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	// Create store
	p.store, err = sqlite.NewFromLog(p.cfg.LogPath, false)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	defer p.store.Close()

	// Check if an analysis already exists and is valid
	meta, err := p.store.GetMeta()
	if err == nil && meta.Complete && !p.cfg.Force {
		if meta.LogPath == p.cfg.LogPath &&
			meta.LogSize == fileInfo.Size() &&
			meta.SchemaVersion == store.SchemaVersion {
			// Analysis is valid, skip re-running
			result.RunID = meta.RunID
			result.Messages = meta.Messages
			result.Failures = meta.Failures
			result.Incomplete = meta.Incomplete
			result.Duration = time.Since(startTime)
			result.Reused = true
			return result, nil
		}
	}

	// Decode the whole log up front; file order is the analysis input
	msgs, err := replay.Load(p.cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}

	// Clear rows from any previous run
	if err := p.store.Reset(); err != nil {
		return nil, fmt.Errorf("clear previous run: %w", err)
	}

	runID := uuid.New().String()
	result.RunID = runID

	// The run row must exist before the first message insert
	runMeta := &model.RunMeta{
		RunID:      runID,
		LogPath:    p.cfg.LogPath,
		AnalyzedAt: time.Now(),
	}
	if err := p.store.BeginBatch(); err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	if err := p.store.InsertRun(runMeta); err != nil {
		p.store.RollbackBatch()
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if err := p.store.CommitBatch(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}

	// Failure events are buffered by the emitter and land in the final
	// batch; only the writer goroutine touches the store mid-stream.
	storeEmitter := kpi.NewStoreEmitter(p.store, runID)
	engine := diag.NewEngine(p.cfg.Diag, kpi.NewMultiEmitter(storeEmitter, p.cfg.Emitter))

	// Setup channels
	writeChan := make(chan *model.MessageSummary, p.cfg.BatchSize*2)
	errChan := make(chan error, 1)

	// Start writer goroutine
	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		if err := p.writerLoop(writeChan); err != nil {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	// Feed messages
	var feedErr error
	for _, msg := range msgs {
		select {
		case <-p.ctx.Done():
			goto done
		default:
		}

		if p.cfg.Filter != nil && !p.cfg.Filter(msg) {
			continue
		}

		if _, err := engine.Feed(msg); err != nil {
			feedErr = fmt.Errorf("message %d: %w", msg.Index, err)
			goto done
		}

		// Send to writer
		select {
		case writeChan <- summarize(runID, msg):
		case <-p.ctx.Done():
			goto done
		}

		p.processed.Add(1)

		// Progress callback
		if p.cfg.ProgressCallback != nil && msg.Index%1000 == 0 {
			p.cfg.ProgressCallback(msg.Index, len(msgs), time.Since(startTime))
		}
	}

done:
	// Close write channel and wait for writer
	close(writeChan)
	writerWg.Wait()

	// Check for errors
	select {
	case err := <-errChan:
		return result, err
	default:
	}
	if feedErr != nil {
		return result, feedErr
	}
	if err := p.ctx.Err(); err != nil {
		return result, err
	}

	summary := engine.Finish()
	result.Summary = summary

	// Final batch: failures, incompletes, run totals
	if err := p.store.BeginBatch(); err != nil {
		return result, fmt.Errorf("begin final batch: %w", err)
	}
	if err := storeEmitter.Flush(); err != nil {
		p.store.RollbackBatch()
		return result, fmt.Errorf("insert failures: %w", err)
	}
	if err := p.store.InsertIncompletes(incompleteRecords(runID, summary.Incomplete)); err != nil {
		p.store.RollbackBatch()
		return result, fmt.Errorf("insert incompletes: %w", err)
	}
	runMeta.Messages = summary.Messages
	runMeta.Skipped = summary.Skipped
	runMeta.OutOfOrder = summary.OutOfOrder
	runMeta.Failures = summary.Failures
	runMeta.Incomplete = len(summary.Incomplete)
	runMeta.DurationNS = time.Since(startTime).Nanoseconds()
	runMeta.Complete = true
	if err := p.store.UpdateRun(runMeta); err != nil {
		p.store.RollbackBatch()
		return result, fmt.Errorf("update run: %w", err)
	}
	if err := p.store.CommitBatch(); err != nil {
		return result, fmt.Errorf("commit final batch: %w", err)
	}

	result.Messages = summary.Messages
	result.Failures = summary.Failures
	result.Incomplete = len(summary.Incomplete)
	result.Duration = time.Since(startTime)

	// Save metadata
	runMeta.SchemaVersion = store.SchemaVersion
	runMeta.LogSize = fileInfo.Size()
	runMeta.LogModified = fileInfo.ModTime()
	if err := p.store.SetMeta(runMeta); err != nil {
		return result, fmt.Errorf("save metadata: %w", err)
	}

	return result, nil
}

// Stop cancels the pipeline.
func (p *Pipeline) Stop() {
	p.cancel()
}

// Progress returns current progress.
func (p *Pipeline) Progress() Progress {
	return Progress{
		Processed: int(p.processed.Load()),
	}
}

// summarize projects a decoded message onto its storage row.
func summarize(runID string, msg *nas.Message) *model.MessageSummary {
	s := &model.MessageSummary{
		RunID:       runID,
		Index:       msg.Index,
		TimestampNS: msg.Timestamp.UnixNano(),
		Layer:       string(msg.Layer),
		IEs:         msg.IEs,
	}
	if msg.Layer == nas.LayerNASEMM {
		s.TypeCode = int(msg.Type)
		s.TypeName = msg.Type.String()
		s.Direction = string(msg.Direction)
		if cause, ok := msg.EMMCause(); ok {
			s.CauseCode = int(cause)
		}
	}
	return s
}

// incompleteRecords converts end-of-stream incompletes to storage rows.
func incompleteRecords(runID string, incs []*diag.Incomplete) []*model.IncompleteRecord {
	out := make([]*model.IncompleteRecord, 0, len(incs))
	for _, inc := range incs {
		out = append(out, &model.IncompleteRecord{
			RunID:      runID,
			InstanceID: inc.InstanceID,
			Procedure:  string(inc.Procedure),
			State:      inc.State.String(),
			StartNS:    inc.Start.UnixNano(),
			Retries:    inc.Retries,
		})
	}
	return out
}

// writerLoop handles batch writing of message rows to the store.
func (p *Pipeline) writerLoop(msgs <-chan *model.MessageSummary) error {
	batch := make([]*model.MessageSummary, 0, p.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		if err := p.store.BeginBatch(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}

		if err := p.store.InsertMessages(batch); err != nil {
			p.store.RollbackBatch()
			return fmt.Errorf("insert messages: %w", err)
		}

		if err := p.store.CommitBatch(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}

		batch = batch[:0]
		return nil
	}

	for m := range msgs {
		batch = append(batch, m)
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	// Final flush
	return flush()
}

// AnalyzeFile is a convenience function to analyze a signaling log.
func AnalyzeFile(logPath string, diagCfg *diag.Config, progressFn func(processed, total int, elapsed time.Duration)) (*Result, error) {
	pipeline := New(Config{
		LogPath:          logPath,
		Diag:             diagCfg,
		ProgressCallback: progressFn,
	})
	return pipeline.Run()
}

// NeedsReanalysis checks if a signaling log needs to be analyzed again.
func NeedsReanalysis(logPath string) (bool, error) {
	fileInfo, err := os.Stat(logPath)
	if err != nil {
		return false, err
	}

	dbPath := logPath + ".kpi.db"
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return true, nil
	}

	s, err := sqlite.NewFromLog(logPath, true)
	if err != nil {
		return true, nil // Can't open, needs reanalysis
	}
	defer s.Close()

	meta, err := s.GetMeta()
	if err != nil {
		return true, nil
	}

	// Check validity
	if !meta.Complete {
		return true, nil
	}
	if meta.LogPath != logPath {
		return true, nil
	}
	if meta.LogSize != fileInfo.Size() {
		return true, nil
	}
	if meta.SchemaVersion != store.SchemaVersion {
		return true, nil
	}

	return false, nil
}
