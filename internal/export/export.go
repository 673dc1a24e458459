package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/archivist/internal/conversation"
)

// MimeJSON is the MIME type of backup artifacts.
const MimeJSON = "application/json"

// ErrNoData is returned when there is nothing to export.
var ErrNoData = errors.New("no data")

// Sink persists a named blob and returns where it went.
type Sink interface {
	Persist(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Exporter serializes backup results to a Sink.
type Exporter struct {
	sink   Sink
	now    func() time.Time
	logger *slog.Logger
}

func New(sink Sink, logger *slog.Logger) *Exporter {
	return &Exporter{sink: sink, now: time.Now, logger: logger}
}

// FileName returns the artifact name for a backup taken at t, e.g.
// chat-2026-10-19T08-30-00-123Z.json.
func FileName(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "chat-" + stamp + ".json"
}

// Export writes records as indented JSON. An empty filenameHint uses
// FileName for the current time.
func (e *Exporter) Export(ctx context.Context, records []conversation.Normalized, mimeType, filenameHint string) (string, error) {
	if records == nil {
		return "", ErrNoData
	}
	if mimeType == "" {
		mimeType = MimeJSON
	}
	name := filenameHint
	if name == "" {
		name = FileName(e.now())
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}

	location, err := e.sink.Persist(ctx, name, mimeType, data)
	if err != nil {
		return "", fmt.Errorf("persist %s: %w", name, err)
	}

	e.logger.Info("backup exported", "location", location, "records", len(records), "bytes", len(data))
	return location, nil
}

// DirSink writes blobs as files into a directory.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) *DirSink {
	if dir == "" {
		dir = "."
	}
	return &DirSink{dir: dir}
}

func (d *DirSink) Persist(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	path := filepath.Join(d.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
