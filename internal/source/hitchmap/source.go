// Package hitchmap ingests the hitchmap.com sqlite dump and turns recent
// hitchhiking spots into publishable items.
package hitchmap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Hitchwiki/nostrhitch/internal/pipeline"
	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// Fetcher is the outbound HTTP surface the source needs. The dump is
// streamed to disk, never buffered in memory.
type Fetcher interface {
	Download(ctx context.Context, url, dst string) error
}

// Options configures the source.
type Options struct {
	DumpURL string
	DumpDir string

	// WindowDays selects points newer than now minus this many days.
	WindowDays int
}

type Source struct {
	fetch Fetcher
	opts  Options
	log   logx.Logger

	// now is swappable for window tests.
	now func() time.Time
}

func New(fetch Fetcher, opts Options, log logx.Logger) *Source {
	return &Source{
		fetch: fetch,
		opts:  opts,
		log:   log.With(logx.String("source", "hitchmap")),
		now:   time.Now,
	}
}

func (s *Source) Name() string { return "hitchmap" }

// Point is one row from the dump's points table.
type Point struct {
	ID          int64
	Lat         float64
	Lng         float64
	Rating      sql.NullFloat64
	Country     sql.NullString
	Wait        sql.NullFloat64
	Hitchhiker  sql.NullString
	Description sql.NullString
	DateTime    sql.NullString
}

// Fetch downloads today's dump if it is not on disk yet, prunes older
// dumps, and returns the points inside the recency window.
func (s *Source) Fetch(ctx context.Context) ([]pipeline.Item, error) {
	if err := os.MkdirAll(s.opts.DumpDir, 0o755); err != nil {
		return nil, fmt.Errorf("dump dir: %w", err)
	}

	today := s.now().Format("2006-01-02")
	path := filepath.Join(s.opts.DumpDir, fmt.Sprintf("hitchmap_%s.sqlite", today))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.log.Info("downloading dump", logx.String("url", s.opts.DumpURL))
		if err := s.download(ctx, path); err != nil {
			return nil, fmt.Errorf("download dump: %w", err)
		}
	} else {
		s.log.Debug("dump already on disk", logx.String("path", path))
	}
	s.prune(path)

	points, err := s.queryWindow(ctx, path)
	if err != nil {
		return nil, err
	}
	s.log.Info("dump queried", logx.Int("points", len(points)))

	items := make([]pipeline.Item, 0, len(points))
	for _, p := range points {
		p := p
		items = append(items, pipeline.Item{
			ID:         fmt.Sprintf("hitchmap_%d", p.ID),
			ObservedAt: s.now(),
			Build:      noteBuilder(p),
		})
	}
	return items, nil
}

func (s *Source) download(ctx context.Context, path string) error {
	tmp := path + ".tmp"
	if err := s.fetch.Download(ctx, s.opts.DumpURL, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// prune removes dated dumps other than the current one.
func (s *Source) prune(current string) {
	files, err := filepath.Glob(filepath.Join(s.opts.DumpDir, "hitchmap_*.sqlite"))
	if err != nil {
		return
	}
	for _, f := range files {
		if f == current {
			continue
		}
		if err := os.Remove(f); err != nil {
			s.log.Warn("old dump not removed", logx.String("path", f), logx.Err(err))
			continue
		}
		s.log.Debug("old dump removed", logx.String("path", f))
	}
}

func (s *Source) queryWindow(ctx context.Context, path string) ([]Point, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	earliest := s.now().AddDate(0, 0, -s.opts.WindowDays).Format("2006-01-02")
	rows, err := db.QueryContext(ctx, `
		SELECT id, lat, lon, rating, country, wait, name, comment, datetime
		FROM points
		WHERE datetime > ?
		ORDER BY datetime`, earliest)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(
			&p.ID, &p.Lat, &p.Lng, &p.Rating, &p.Country,
			&p.Wait, &p.Hitchhiker, &p.Description, &p.DateTime,
		); err != nil {
			s.log.Warn("row scan failed", logx.Err(err))
			continue
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
