package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MikeSquared-Agency/archivist/internal/backup"
	"github.com/MikeSquared-Agency/archivist/internal/hermes"
)

// Backups runs backup workflows. The Start methods claim the runner before
// returning, so a nil error means the backup is actually running.
type Backups interface {
	StartFull(ctx context.Context, req backup.FullRequest) (<-chan backup.Outcome, error)
	StartSingle(ctx context.Context, sourceURL string) (<-chan backup.Outcome, error)
	Single(ctx context.Context, sourceURL string) (*backup.Result, error)
}

// Dispatcher turns trigger requests (HTTP or NATS) into backup runs. Full
// backups run in the background on the dispatcher's context.
type Dispatcher struct {
	ctx          context.Context
	backups      Backups
	defaultStart int
	defaultStop  int
	logger       *slog.Logger
	wg           sync.WaitGroup
}

func NewDispatcher(ctx context.Context, b Backups, defaultStart, defaultStop int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:          ctx,
		backups:      b,
		defaultStart: defaultStart,
		defaultStop:  defaultStop,
		logger:       logger,
	}
}

func (d *Dispatcher) fullRequest(start, stop *int) backup.FullRequest {
	req := backup.FullRequest{
		StartOffset: d.defaultStart,
		StopOffset:  backup.StopAt(d.defaultStop),
	}
	if start != nil {
		req.StartOffset = *start
	}
	if stop != nil {
		req.StopOffset = backup.StopAt(*stop)
	}
	return req
}

// StartFull launches a full backup in the background. It returns
// backup.ErrBusy when another backup is running.
func (d *Dispatcher) StartFull(start, stop *int) error {
	req := d.fullRequest(start, stop)
	done, err := d.backups.StartFull(d.ctx, req)
	if err != nil {
		return err
	}
	d.watch(done, "workflow", backup.WorkflowFull, "start_offset", req.StartOffset)
	return nil
}

// StartSingle launches a single-conversation backup in the background.
func (d *Dispatcher) StartSingle(sourceURL string) error {
	done, err := d.backups.StartSingle(d.ctx, sourceURL)
	if err != nil {
		return err
	}
	d.watch(done, "workflow", backup.WorkflowSingle, "url", sourceURL)
	return nil
}

// watch logs the outcome of a background backup.
func (d *Dispatcher) watch(done <-chan backup.Outcome, attrs ...any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if out := <-done; out.Err != nil {
			d.logger.Error("background backup failed", append(attrs, "error", out.Err)...)
		}
	}()
}

// Single runs a single-conversation backup and waits for it.
func (d *Dispatcher) Single(ctx context.Context, sourceURL string) (*backup.Result, error) {
	return d.backups.Single(ctx, sourceURL)
}

// Wait blocks until background backups have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleBackupRequest is the NATS handler for hermes.SubjectBackupRequest.
func (d *Dispatcher) HandleBackupRequest(subject string, data []byte) {
	var req hermes.BackupRequest
	if err := json.Unmarshal(data, &req); err != nil {
		d.logger.Error("failed to parse backup request", "subject", subject, "error", err)
		return
	}

	switch req.Workflow {
	case backup.WorkflowFull, "":
		if err := d.StartFull(req.StartOffset, req.StopOffset); err != nil {
			d.logger.Warn("backup request rejected", "workflow", "full", "error", err)
		}
	case backup.WorkflowSingle:
		if err := d.StartSingle(req.URL); err != nil {
			d.logger.Warn("backup request rejected", "workflow", "single", "error", err)
		}
	default:
		d.logger.Warn("unknown backup workflow", "workflow", req.Workflow)
	}
}

type fullBody struct {
	StartOffset *int `json:"start_offset,omitempty"`
	StopOffset  *int `json:"stop_offset,omitempty"`
}

type singleBody struct {
	URL string `json:"url"`
}

// startFull handles POST /api/v1/backups/full
func (s *Server) startFull(w http.ResponseWriter, r *http.Request) {
	var body fullBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.dispatcher.StartFull(body.StartOffset, body.StopOffset); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// startSingle handles POST /api/v1/backups/single
func (s *Server) startSingle(w http.ResponseWriter, r *http.Request) {
	var body singleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	res, err := s.dispatcher.Single(r.Context(), body.URL)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "done",
		"run_id":       res.RunID,
		"location":     res.Location,
		"conversation": res.Records,
	})
}

// backupStatus handles GET /api/v1/backups/status
func (s *Server) backupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, backup.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, backup.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
