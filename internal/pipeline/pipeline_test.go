package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/internal/dedup"
	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

type fakePublisher struct {
	failFor   map[string]error // event content -> error
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, ev *nostr.Event) error {
	if err, ok := f.failFor[ev.Content]; ok {
		return err
	}
	f.published = append(f.published, ev.Content)
	return nil
}

func item(id string) Item {
	return Item{
		ID: id,
		Build: func(ctx context.Context) (*nostr.Event, error) {
			return &nostr.Event{Kind: nostr.KindTextNote, Content: id}, nil
		},
	}
}

func TestRunPublishesFreshItems(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{}
	p := New("test", guard, pub, false, logx.Nop())

	rep := p.Run(context.Background(), []Item{item("b1"), item("b2")})

	want := Report{Attempted: 2, Published: 2}
	if rep.Attempted != want.Attempted || rep.Published != want.Published || rep.Skipped != 0 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}
	if !guard.IsDuplicate("b1") || !guard.IsDuplicate("b2") {
		t.Error("published items must be marked in the guard")
	}
	if len(pub.published) != 2 {
		t.Errorf("relay saw %d events, want 2", len(pub.published))
	}
}

func TestRunSkipsSeededDuplicates(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	guard.MarkPublished("a1")
	pub := &fakePublisher{}
	p := New("test", guard, pub, false, logx.Nop())

	rep := p.Run(context.Background(), []Item{item("a1")})

	if rep.Attempted != 1 || rep.Published != 0 || rep.Skipped != 1 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}
	if len(pub.published) != 0 {
		t.Error("duplicate must not reach the relay")
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{failFor: map[string]error{"B": errors.New("relay down")}}
	p := New("test", guard, pub, false, logx.Nop())

	rep := p.Run(context.Background(), []Item{item("A"), item("B"), item("C")})

	if rep.Attempted != 3 || rep.Published != 2 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if !guard.IsDuplicate("A") || !guard.IsDuplicate("C") {
		t.Error("successful items must be marked")
	}
	if guard.IsDuplicate("B") {
		t.Error("failed item must stay eligible for retry")
	}
}

func TestRunRetriesFailedItemNextRun(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{failFor: map[string]error{"X": errors.New("relay down")}}
	p := New("test", guard, pub, false, logx.Nop())

	batch := []Item{item("X")}
	if rep := p.Run(context.Background(), batch); rep.Failed != 1 {
		t.Fatalf("first run report = %+v", rep)
	}

	// Relay recovers; the same batch now goes through.
	pub.failFor = nil
	rep := p.Run(context.Background(), batch)
	if rep.Published != 1 || rep.Failed != 0 {
		t.Errorf("second run report = %+v", rep)
	}
}

func TestRunAtMostOnceAcrossRuns(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{}
	p := New("test", guard, pub, false, logx.Nop())

	batch := []Item{item("n1"), item("n2")}
	p.Run(context.Background(), batch)
	rep := p.Run(context.Background(), batch)

	if rep.Published != 0 || rep.Skipped != 2 {
		t.Errorf("second run report = %+v", rep)
	}
	if len(pub.published) != 2 {
		t.Errorf("relay saw %d events across both runs, want 2", len(pub.published))
	}
}

func TestDryRunMarksWithoutNetwork(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{}
	p := New("test", guard, pub, true, logx.Nop())

	batch := []Item{item("d1"), item("d2")}
	first := p.Run(context.Background(), batch)
	if first.Published != 2 || len(pub.published) != 0 {
		t.Errorf("first dry run: report=%+v network=%v", first, pub.published)
	}

	second := p.Run(context.Background(), batch)
	if second.Skipped != 2 || second.Published != 0 {
		t.Errorf("second dry run report = %+v", second)
	}
}

func TestRunSkipsEmptyIDs(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{}
	p := New("test", guard, pub, false, logx.Nop())

	rep := p.Run(context.Background(), []Item{item(""), item("ok")})

	if rep.Attempted != 1 || rep.Published != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRunSkipsUnbuildableItems(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{}
	p := New("test", guard, pub, false, logx.Nop())

	broken := Item{ID: "bad", Build: func(ctx context.Context) (*nostr.Event, error) {
		return nil, errors.New("malformed entry")
	}}
	rep := p.Run(context.Background(), []Item{broken, item("good")})

	if rep.Attempted != 2 || rep.Published != 1 || rep.Skipped != 1 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}
	if guard.IsDuplicate("bad") {
		t.Error("unbuildable item must not be marked published")
	}

	// Every attempted item gets a record, the unbuildable one tagged as such.
	if len(rep.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(rep.Records))
	}
	var bad *Record
	for i := range rep.Records {
		if rep.Records[i].ItemID == "bad" {
			bad = &rep.Records[i]
		}
	}
	if bad == nil {
		t.Fatal("no record for the unbuildable item")
	}
	if bad.Outcome != OutcomeSkippedInvalid {
		t.Errorf("outcome = %v, want OutcomeSkippedInvalid", bad.Outcome)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	guard := dedup.NewGuard(logx.Nop())
	pub := &fakePublisher{}
	p := New("test", guard, pub, false, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := p.Run(ctx, []Item{item("x1"), item("x2")})

	if rep.Attempted != 0 || len(pub.published) != 0 {
		t.Errorf("cancelled run did work: %+v", rep)
	}
}
