// Package dedup implements the duplicate guard that keeps the bot from
// re-posting items it has already published, within this process and
// across restarts (via relay history seeding).
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// hitchmapNoteKind is the parameterized kind older bot versions used for
// map notes. Seeding still scans it so those ids stay deduplicated.
const hitchmapNoteKind = 30399

// Querier fetches this identity's history from the relays.
type Querier interface {
	Query(ctx context.Context, filter nostr.Filter) []*nostr.Event
	PublicKey() string
}

// Guard is a monotonic posted-id set: ids are only ever added, never
// removed, for the lifetime of the process. Safe for concurrent use.
type Guard struct {
	mu   sync.RWMutex
	seen map[string]bool

	disabled bool
	log      logx.Logger
}

func NewGuard(log logx.Logger) *Guard {
	return &Guard{seen: make(map[string]bool), log: log}
}

// Disable makes IsDuplicate always answer false. Marking still records ids
// so re-enabling logic elsewhere would not lose the session history.
func (g *Guard) Disable() {
	g.mu.Lock()
	g.disabled = true
	g.mu.Unlock()
}

// Seed pre-populates the guard from the relays' view of what this identity
// already published. A relay that cannot be queried contributes nothing;
// when every relay fails the guard starts empty and the bot keeps running.
// Duplicates on the network are preferable to a bot that never posts.
func (g *Guard) Seed(ctx context.Context, q Querier, limit int) {
	events := q.Query(ctx, nostr.Filter{
		Authors: []string{q.PublicKey()},
		Kinds:   []int{nostr.KindTextNote, hitchmapNoteKind},
		Limit:   limit,
	})
	if len(events) == 0 {
		g.log.Warn("duplicate guard seeded empty; relay history unavailable or no prior notes")
		return
	}

	added := 0
	g.mu.Lock()
	for _, ev := range events {
		for _, id := range idsFromEvent(ev) {
			if !g.seen[id] {
				g.seen[id] = true
				added++
			}
		}
	}
	total := len(g.seen)
	g.mu.Unlock()

	g.log.Info("duplicate guard seeded",
		logx.Int("events", len(events)),
		logx.Int("ids_added", added),
		logx.Int("ids_total", total),
	)
}

// idsFromEvent recovers the source item ids a previously published note was
// posted for. Wiki notes carry the diff URL in an "r" tag; map notes carry
// a "d" tag and a t=hitchmap marker.
func idsFromEvent(ev *nostr.Event) []string {
	var ids []string

	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "r" && strings.Contains(tag[1], "hitchwiki.org") {
			ids = append(ids, tag[1])
			break
		}
	}

	hasHitchmapTag := false
	hitchmapID := ""
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "t" && tag[1] == "hitchmap" {
			hasHitchmapTag = true
		}
		if len(tag) >= 2 && tag[0] == "d" {
			hitchmapID = tag[1]
		}
	}
	if hasHitchmapTag && hitchmapID != "" {
		ids = append(ids, fmt.Sprintf("hitchmap_%s", hitchmapID))
	}
	return ids
}

// IsDuplicate reports whether id was already published, either earlier in
// this session or according to the seeded relay history.
func (g *Guard) IsDuplicate(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.disabled {
		return false
	}
	return g.seen[id]
}

// MarkPublished records id as published. Dry-run marks too, so one session
// never simulates the same item twice.
func (g *Guard) MarkPublished(id string) {
	g.mu.Lock()
	g.seen[id] = true
	g.mu.Unlock()
}

// Len returns the number of known ids.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seen)
}
