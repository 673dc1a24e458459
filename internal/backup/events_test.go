package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakePublisher struct {
	subjects []string
	err      error
}

func (f *fakePublisher) Publish(subject string, _ any) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

type fakePoster struct {
	texts []string
	err   error
}

func (f *fakePoster) Post(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func TestEventPublisher_Subjects(t *testing.T) {
	pub := &fakePublisher{}
	p := NewEventPublisher(pub, discardLogger())

	p.Report(context.Background(), Event{Kind: EventStarted})
	p.Report(context.Background(), Event{Kind: EventCompleted})

	if len(pub.subjects) != 2 ||
		pub.subjects[0] != "swarm.archivist.backup.started" ||
		pub.subjects[1] != "swarm.archivist.backup.completed" {
		t.Errorf("subjects = %v", pub.subjects)
	}
}

func TestEventPublisher_ErrorIsLogged(t *testing.T) {
	p := NewEventPublisher(&fakePublisher{err: errors.New("nats down")}, discardLogger())
	p.Report(context.Background(), Event{Kind: EventFailed})
}

func TestNotifier_OnlyTerminalEvents(t *testing.T) {
	poster := &fakePoster{}
	n := NewNotifier(poster, discardLogger())
	ctx := context.Background()

	n.Report(ctx, Event{Kind: EventStarted})
	n.Report(ctx, Event{Kind: EventFetched, Done: 1})
	n.Report(ctx, Event{Kind: EventCompleted, Workflow: WorkflowFull, Done: 12, Location: "chat-x.json"})
	n.Report(ctx, Event{Kind: EventFailed, Workflow: WorkflowSingle, Error: "unable to fetch token"})

	if len(poster.texts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(poster.texts))
	}
	if !strings.Contains(poster.texts[0], "Backup complete") || !strings.Contains(poster.texts[0], "12 conversations") || !strings.Contains(poster.texts[0], "chat-x.json") {
		t.Errorf("completed text = %q", poster.texts[0])
	}
	if !strings.Contains(poster.texts[1], "Backup failed") || !strings.Contains(poster.texts[1], "unable to fetch token") {
		t.Errorf("failed text = %q", poster.texts[1])
	}
}

func TestReporters_FanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Reporters{a, nil, b}.Report(context.Background(), Event{Kind: EventStarted})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan-out failed: %d %d", len(a.events), len(b.events))
	}
}
