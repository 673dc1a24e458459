package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind is a backup lifecycle stage.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventListed    EventKind = "listed"
	EventFetched   EventKind = "fetched"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Workflow names.
const (
	WorkflowFull   = "full"
	WorkflowSingle = "single"
)

// Event is coarse progress for trigger surfaces.
type Event struct {
	RunID     uuid.UUID `json:"run_id"`
	Workflow  string    `json:"workflow"`
	Kind      EventKind `json:"kind"`
	Done      int       `json:"done"`
	Expected  int       `json:"expected"`
	Location  string    `json:"location,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// Reporters fans an event out to every reporter in order.
type Reporters []Reporter

func (rs Reporters) Report(ctx context.Context, ev Event) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

// Publisher publishes a JSON payload on a subject.
type Publisher interface {
	Publish(subject string, data any) error
}

// SubjectPrefix is prepended to the event kind when publishing.
const SubjectPrefix = "swarm.archivist.backup."

// EventPublisher forwards events to a message bus.
type EventPublisher struct {
	pub    Publisher
	logger *slog.Logger
}

func NewEventPublisher(pub Publisher, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, logger: logger}
}

func (p *EventPublisher) Report(_ context.Context, ev Event) {
	subject := SubjectPrefix + string(ev.Kind)
	if err := p.pub.Publish(subject, ev); err != nil {
		p.logger.Warn("failed to publish backup event", "subject", subject, "error", err)
	}
}

// Poster posts a text message.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// Notifier posts a summary when a run finishes.
type Notifier struct {
	poster Poster
	logger *slog.Logger
}

func NewNotifier(poster Poster, logger *slog.Logger) *Notifier {
	return &Notifier{poster: poster, logger: logger}
}

func (n *Notifier) Report(ctx context.Context, ev Event) {
	text := FormatSummary(ev)
	if text == "" {
		return
	}
	if err := n.poster.Post(ctx, text); err != nil {
		n.logger.Warn("failed to post backup summary, logging instead", "error", err, "summary", text)
	}
}

// FormatSummary renders a terminal event as a chat message. Non-terminal
// events render as "".
func FormatSummary(ev Event) string {
	switch ev.Kind {
	case EventCompleted:
		msg := fmt.Sprintf("*Backup complete* (%s): %d conversations", ev.Workflow, ev.Done)
		if ev.Location != "" {
			msg += fmt.Sprintf("\nSaved to `%s`", ev.Location)
		}
		return msg
	case EventFailed:
		return fmt.Sprintf("*Backup failed* (%s) after %d conversations: %s", ev.Workflow, ev.Done, ev.Error)
	default:
		return ""
	}
}
