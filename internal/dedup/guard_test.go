package dedup

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

type fakeQuerier struct {
	events []*nostr.Event
}

func (f *fakeQuerier) Query(ctx context.Context, filter nostr.Filter) []*nostr.Event {
	return f.events
}

func (f *fakeQuerier) PublicKey() string { return "pubkey" }

func TestMarkAndCheck(t *testing.T) {
	t.Parallel()

	g := NewGuard(logx.Nop())
	if g.IsDuplicate("a") {
		t.Error("fresh guard should know nothing")
	}
	g.MarkPublished("a")
	if !g.IsDuplicate("a") {
		t.Error("marked id should be a duplicate")
	}
	if g.IsDuplicate("b") {
		t.Error("unrelated id should not be a duplicate")
	}
}

func TestMarkIsMonotonic(t *testing.T) {
	t.Parallel()

	g := NewGuard(logx.Nop())
	g.MarkPublished("a")
	g.MarkPublished("a")
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
	// No removal API exists; once marked, always a duplicate.
	for i := 0; i < 100; i++ {
		if !g.IsDuplicate("a") {
			t.Fatal("id forgot its published state")
		}
	}
}

func TestSeedExtractsWikiAndMapIDs(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{events: []*nostr.Event{
		{Tags: nostr.Tags{
			{"r", "https://hitchwiki.org/en/index.php?title=Berlin&diff=1&oldid=0"},
			{"t", "hitchwiki"},
		}},
		{Tags: nostr.Tags{
			{"d", "4242"},
			{"t", "hitchmap"},
		}},
		// "r" tag pointing elsewhere must not seed anything
		{Tags: nostr.Tags{{"r", "https://example.org/unrelated"}}},
		// "d" tag without the hitchmap marker must not seed anything
		{Tags: nostr.Tags{{"d", "999"}}},
	}}

	g := NewGuard(logx.Nop())
	g.Seed(context.Background(), q, 1000)

	if !g.IsDuplicate("https://hitchwiki.org/en/index.php?title=Berlin&diff=1&oldid=0") {
		t.Error("wiki diff URL should be seeded")
	}
	if !g.IsDuplicate("hitchmap_4242") {
		t.Error("map id should be seeded with its prefix")
	}
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2", g.Len())
	}
}

func TestSeedFailureDegradesToEmpty(t *testing.T) {
	t.Parallel()

	g := NewGuard(logx.Nop())
	g.Seed(context.Background(), &fakeQuerier{}, 1000)

	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
	// Guard still works for the session after a failed seed.
	g.MarkPublished("x")
	if !g.IsDuplicate("x") {
		t.Error("session marking must survive a failed seed")
	}
}

func TestDisable(t *testing.T) {
	t.Parallel()

	g := NewGuard(logx.Nop())
	g.MarkPublished("a")
	g.Disable()
	if g.IsDuplicate("a") {
		t.Error("disabled guard should never report duplicates")
	}
	// Marking keeps recording even while disabled.
	g.MarkPublished("b")
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2", g.Len())
	}
}
