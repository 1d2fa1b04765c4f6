// Package pipeline turns a batch of candidate items into published Nostr
// notes, consulting the duplicate guard so each item goes out at most once.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/internal/dedup"
	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// Item is one candidate for publishing. ID must be stable across fetches of
// the same underlying thing; the source re-returns unpublished items on the
// next poll, so a failed publish retries naturally.
type Item struct {
	ID         string
	ObservedAt time.Time

	// Build produces the outbound event. Called only when the item survives
	// the duplicate check and dry-run short-circuit.
	Build func(ctx context.Context) (*nostr.Event, error)
}

// Publisher sends a signed event to the relay pool.
type Publisher interface {
	Publish(ctx context.Context, ev *nostr.Event) error
}

// Outcome classifies what happened to one item.
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeSkippedDuplicate
	// OutcomeSkippedInvalid marks an item whose event could not be built.
	OutcomeSkippedInvalid
	OutcomeFailed
)

// Record is the per-item result, consumed by logging and metrics.
type Record struct {
	ItemID      string
	PublishedAt time.Time
	Outcome     Outcome
}

// Report aggregates one pipeline run.
type Report struct {
	Attempted int
	Published int
	Skipped   int
	Failed    int

	Records []Record
}

// Pipeline publishes items for one source. Each source owns its own
// pipeline and shares the process-wide guard and relay pool.
type Pipeline struct {
	name   string
	guard  *dedup.Guard
	pub    Publisher
	dryRun atomic.Bool
	log    logx.Logger
}

func New(name string, guard *dedup.Guard, pub Publisher, dryRun bool, log logx.Logger) *Pipeline {
	p := &Pipeline{
		name:  name,
		guard: guard,
		pub:   pub,
		log:   log.With(logx.String("pipeline", name)),
	}
	p.dryRun.Store(dryRun)
	return p
}

// SetDryRun toggles dry-run mode, effective from the next item. Config hot
// reload uses this.
func (p *Pipeline) SetDryRun(v bool) { p.dryRun.Store(v) }

// Run processes items in order. One item's failure never aborts the rest;
// failed items stay unmarked so the next poll retries them.
func (p *Pipeline) Run(ctx context.Context, items []Item) Report {
	var rep Report
	for _, item := range items {
		if ctx.Err() != nil {
			p.log.Info("run interrupted", logx.Int("remaining", len(items)-rep.Attempted))
			break
		}

		if item.ID == "" {
			p.log.Warn("item with empty id skipped")
			continue
		}
		rep.Attempted++

		if p.guard.IsDuplicate(item.ID) {
			rep.Skipped++
			rep.Records = append(rep.Records, Record{ItemID: item.ID, Outcome: OutcomeSkippedDuplicate})
			p.log.Debug("duplicate skipped", logx.String("id", item.ID))
			continue
		}

		if p.dryRun.Load() {
			p.guard.MarkPublished(item.ID)
			rep.Published++
			rep.Records = append(rep.Records, Record{ItemID: item.ID, PublishedAt: time.Now(), Outcome: OutcomePublished})
			p.log.Info("dry run, would publish", logx.String("id", item.ID))
			continue
		}

		ev, err := item.Build(ctx)
		if err != nil {
			// Malformed candidate; drop it without failing the batch.
			p.log.Warn("item build failed, skipped", logx.String("id", item.ID), logx.Err(err))
			rep.Skipped++
			rep.Records = append(rep.Records, Record{ItemID: item.ID, Outcome: OutcomeSkippedInvalid})
			continue
		}

		if err := p.pub.Publish(ctx, ev); err != nil {
			rep.Failed++
			rep.Records = append(rep.Records, Record{ItemID: item.ID, Outcome: OutcomeFailed})
			p.log.Error("publish failed", logx.String("id", item.ID), logx.Err(err))
			continue
		}

		p.guard.MarkPublished(item.ID)
		rep.Published++
		rep.Records = append(rep.Records, Record{ItemID: item.ID, PublishedAt: time.Now(), Outcome: OutcomePublished})
		p.log.Info("published", logx.String("id", item.ID))
	}

	p.log.Info("run finished",
		logx.Int("attempted", rep.Attempted),
		logx.Int("published", rep.Published),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
	)
	return rep
}
