package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/archivist/internal/chatapi"
	"github.com/MikeSquared-Agency/archivist/internal/conversation"
)

// DefaultPacingDelay is the pause before each page beyond the first and
// before each conversation fetch.
const DefaultPacingDelay = time.Second

// ErrBusy is returned when a backup is started while another is running.
var ErrBusy = errors.New("backup already running")

// Credentials provides and invalidates the bearer credential.
type Credentials interface {
	Load(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Service is the remote chat service.
type Service interface {
	ListPage(ctx context.Context, credential string, offset int) (chatapi.Page, error)
	ListFirstID(ctx context.Context, credential string) (string, error)
	FetchConversation(ctx context.Context, credential, id string) (*conversation.RawDocument, error)
}

// Exporter persists a finished backup.
type Exporter interface {
	Export(ctx context.Context, records []conversation.Normalized, mimeType, filenameHint string) (string, error)
}

// Config holds runner tuning.
type Config struct {
	PacingDelay time.Duration
	Sleep       chatapi.SleepFunc
	MimeType    string
}

// FullRequest bounds a full backup. A nil StopOffset walks every page.
type FullRequest struct {
	StartOffset int
	StopOffset  *int
}

// StopAt converts the -1 "no stop" convention into an optional bound.
func StopAt(offset int) *int {
	if offset < 0 {
		return nil
	}
	return &offset
}

// Result is a finished, exported backup.
type Result struct {
	RunID    uuid.UUID                 `json:"run_id"`
	Records  []conversation.Normalized `json:"records"`
	Location string                    `json:"location"`
}

// Runner drives full and single-conversation backups. All remote calls are
// sequential.
type Runner struct {
	cfg      Config
	creds    Credentials
	svc      Service
	exporter Exporter
	reporter Reporter
	logger   *slog.Logger

	running atomic.Bool
}

func NewRunner(cfg Config, creds Credentials, svc Service, exp Exporter, reporter Reporter, logger *slog.Logger) *Runner {
	if cfg.PacingDelay < 0 {
		cfg.PacingDelay = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = chatapi.SleepContext
	}
	if reporter == nil {
		reporter = Reporters(nil)
	}
	return &Runner{
		cfg:      cfg,
		creds:    creds,
		svc:      svc,
		exporter: exp,
		reporter: reporter,
		logger:   logger,
	}
}

// Busy reports whether a backup is in progress.
func (r *Runner) Busy() bool {
	return r.running.Load()
}

// run tracks one backup invocation for progress reporting.
type run struct {
	id       uuid.UUID
	workflow string
	expected int
	done     int
}

func (r *Runner) report(ctx context.Context, rn *run, kind EventKind, mutate func(*Event)) {
	ev := Event{
		RunID:     rn.id,
		Workflow:  rn.workflow,
		Kind:      kind,
		Done:      rn.done,
		Expected:  rn.expected,
		Timestamp: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&ev)
	}
	r.reporter.Report(ctx, ev)
}

// Full runs a full backup and exports the result.
func (r *Runner) Full(ctx context.Context, req FullRequest) (*Result, error) {
	return r.execute(ctx, WorkflowFull, func(ctx context.Context, rn *run) ([]conversation.Normalized, error) {
		return r.runFull(ctx, rn, req)
	})
}

// Single backs up the conversation named by sourceURL and exports it.
func (r *Runner) Single(ctx context.Context, sourceURL string) (*Result, error) {
	return r.execute(ctx, WorkflowSingle, func(ctx context.Context, rn *run) ([]conversation.Normalized, error) {
		return r.runSingle(ctx, rn, sourceURL)
	})
}

// RunFull collects every conversation from req.StartOffset onward without
// exporting.
func (r *Runner) RunFull(ctx context.Context, req FullRequest) ([]conversation.Normalized, error) {
	return r.runFull(ctx, &run{id: uuid.New(), workflow: WorkflowFull}, req)
}

// RunSingle collects one conversation without exporting. The result always
// has exactly one element.
func (r *Runner) RunSingle(ctx context.Context, sourceURL string) ([]conversation.Normalized, error) {
	return r.runSingle(ctx, &run{id: uuid.New(), workflow: WorkflowSingle}, sourceURL)
}

// Outcome is the result of a backup started with StartFull or StartSingle.
type Outcome struct {
	Result *Result
	Err    error
}

// StartFull claims the runner and runs a full backup in the background. It
// returns ErrBusy immediately when another backup holds the runner. The
// channel receives exactly one Outcome.
func (r *Runner) StartFull(ctx context.Context, req FullRequest) (<-chan Outcome, error) {
	return r.start(ctx, WorkflowFull, func(ctx context.Context, rn *run) ([]conversation.Normalized, error) {
		return r.runFull(ctx, rn, req)
	})
}

// StartSingle is the background counterpart of Single.
func (r *Runner) StartSingle(ctx context.Context, sourceURL string) (<-chan Outcome, error) {
	return r.start(ctx, WorkflowSingle, func(ctx context.Context, rn *run) ([]conversation.Normalized, error) {
		return r.runSingle(ctx, rn, sourceURL)
	})
}

func (r *Runner) start(ctx context.Context, workflow string, fn func(context.Context, *run) ([]conversation.Normalized, error)) (<-chan Outcome, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	out := make(chan Outcome, 1)
	go func() {
		res, err := r.claimed(ctx, workflow, fn)
		out <- Outcome{Result: res, Err: err}
	}()
	return out, nil
}

func (r *Runner) execute(ctx context.Context, workflow string, fn func(context.Context, *run) ([]conversation.Normalized, error)) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return r.claimed(ctx, workflow, fn)
}

// claimed runs fn while the caller holds the running flag and releases it
// when done.
func (r *Runner) claimed(ctx context.Context, workflow string, fn func(context.Context, *run) ([]conversation.Normalized, error)) (*Result, error) {
	defer r.running.Store(false)

	rn := &run{id: uuid.New(), workflow: workflow}
	start := time.Now()
	r.logger.Info("backup started", "run_id", rn.id, "workflow", workflow)
	r.report(ctx, rn, EventStarted, nil)

	records, err := fn(ctx, rn)
	if err == nil {
		var location string
		location, err = r.exporter.Export(ctx, records, r.cfg.MimeType, "")
		if err == nil {
			r.logger.Info("backup complete",
				"run_id", rn.id,
				"workflow", workflow,
				"conversations", len(records),
				"location", location,
				"duration", time.Since(start).Round(time.Millisecond).String(),
			)
			r.report(ctx, rn, EventCompleted, func(ev *Event) { ev.Location = location })
			return &Result{RunID: rn.id, Records: records, Location: location}, nil
		}
		err = fmt.Errorf("export: %w", err)
	}

	r.logger.Error("backup failed", "run_id", rn.id, "workflow", workflow, "error", err)
	r.report(ctx, rn, EventFailed, func(ev *Event) { ev.Error = err.Error() })
	return nil, err
}

func (r *Runner) runFull(ctx context.Context, rn *run, req FullRequest) (_ []conversation.Normalized, err error) {
	defer func() {
		if err != nil {
			r.invalidateOnUnauthorized(ctx, err)
		}
	}()

	cred, err := r.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	first, err := r.svc.ListPage(ctx, cred, req.StartOffset)
	if err != nil {
		return nil, fmt.Errorf("list offset %d: %w", req.StartOffset, err)
	}
	summaries := append([]conversation.Summary(nil), first.Items...)
	rn.expected = chatapi.RequestCount(first.Total, req.StartOffset, req.StopOffset)

	offsets := chatapi.ComputeOffsets(req.StartOffset, first.Total, chatapi.DefaultPageSize)
	for _, offset := range offsets {
		if req.StopOffset != nil && offset >= *req.StopOffset {
			r.logger.Info("stop offset reached", "offset", offset, "stop_offset", *req.StopOffset)
			break
		}
		if err := r.pace(ctx); err != nil {
			return nil, err
		}
		page, err := r.svc.ListPage(ctx, cred, offset)
		if err != nil {
			return nil, fmt.Errorf("list offset %d: %w", offset, err)
		}
		summaries = append(summaries, page.Items...)
	}

	r.logger.Info("conversations listed",
		"run_id", rn.id,
		"total", first.Total,
		"start_offset", req.StartOffset,
		"pages", len(offsets)+1,
		"conversations", len(summaries),
	)
	r.report(ctx, rn, EventListed, func(ev *Event) { ev.Expected = len(summaries) })

	results := make([]conversation.Normalized, 0, len(summaries))
	for _, s := range summaries {
		if err := r.pace(ctx); err != nil {
			return nil, err
		}
		n, err := r.fetch(ctx, cred, s.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
		rn.done++
		r.logger.Debug("conversation fetched", "conversation_id", s.ID, "offset", s.Offset, "done", rn.done)
		r.report(ctx, rn, EventFetched, nil)
	}

	return results, nil
}

func (r *Runner) runSingle(ctx context.Context, rn *run, sourceURL string) (_ []conversation.Normalized, err error) {
	defer func() {
		if err != nil {
			r.invalidateOnUnauthorized(ctx, err)
		}
	}()

	id, err := ParseConversationID(sourceURL)
	if err != nil {
		return nil, err
	}
	rn.expected = 1

	cred, err := r.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	if !IsConversationID(id) {
		r.logger.Info("no conversation id in url, using most recent", "url", sourceURL)
		id, err = r.svc.ListFirstID(ctx, cred)
		if err != nil {
			return nil, fmt.Errorf("resolve latest conversation: %w", err)
		}
	}

	n, err := r.fetch(ctx, cred, id)
	if err != nil {
		return nil, err
	}
	rn.done = 1
	r.report(ctx, rn, EventFetched, nil)
	return []conversation.Normalized{n}, nil
}

func (r *Runner) fetch(ctx context.Context, cred, id string) (conversation.Normalized, error) {
	raw, err := r.svc.FetchConversation(ctx, cred, id)
	if err != nil {
		return conversation.Normalized{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	n, err := conversation.Normalize(raw)
	if err != nil {
		return conversation.Normalized{}, fmt.Errorf("normalize %s: %w", id, err)
	}
	return n, nil
}

func (r *Runner) pace(ctx context.Context) error {
	if r.cfg.PacingDelay == 0 {
		return nil
	}
	return r.cfg.Sleep(ctx, r.cfg.PacingDelay)
}

// invalidateOnUnauthorized drops the stored credential after a 401 so the
// next run derives a fresh one.
func (r *Runner) invalidateOnUnauthorized(ctx context.Context, err error) {
	if !errors.Is(err, chatapi.ErrUnauthorized) {
		return
	}
	r.logger.Warn("credential rejected, clearing")
	if cerr := r.creds.Clear(ctx); cerr != nil {
		r.logger.Error("failed to clear credential", "error", cerr)
	}
}
