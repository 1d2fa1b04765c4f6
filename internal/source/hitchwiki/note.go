package hitchwiki

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/internal/geo"
	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// Edit is one recent-changes entry.
type Edit struct {
	Title   string
	Author  string
	Summary string
	DiffURL string
	Lang    string
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	nonWordRe    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func cleanAuthor(author string) string {
	clean := htmlTagRe.ReplaceAllString(author, "")
	clean = nonWordRe.ReplaceAllString(clean, "")
	return strings.TrimSpace(clean)
}

func cleanSummary(summary string) string {
	clean := htmlTagRe.ReplaceAllString(summary, "")
	clean = whitespaceRe.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(clean)

	// MediaWiki appends the full diff table; keep only the edit comment.
	if i := strings.Index(clean, "Revision as of"); i >= 0 {
		clean = strings.TrimSpace(clean[:i])
	}
	if len(clean) > 160 {
		clean = clean[:160] + "..."
	}
	return clean
}

// articleURL rebuilds the plain article URL from a diff link, keeping the
// language path.
// https://hitchwiki.org/ru/index.php?title=Куба&diff=1&oldid=0 becomes
// https://hitchwiki.org/ru/Куба.
func articleURL(diffURL string) string {
	const host = "hitchwiki.org/"
	i := strings.Index(diffURL, host)
	if i == -1 {
		return ""
	}
	rest := diffURL[i+len(host):]
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return ""
	}
	lang := rest[:slash]

	ti := strings.Index(diffURL, "title=")
	if ti == -1 {
		return ""
	}
	title := diffURL[ti+len("title="):]
	if amp := strings.Index(title, "&"); amp != -1 {
		title = title[:amp]
	}
	return fmt.Sprintf("https://hitchwiki.org/%s/%s", lang, title)
}

// noteBuilder returns the deferred event constructor for one edit. The
// article page fetch (for coordinates) happens only when the pipeline has
// decided the item will actually be published.
func (s *Source) noteBuilder(edit Edit) func(ctx context.Context) (*nostr.Event, error) {
	return func(ctx context.Context) (*nostr.Event, error) {
		article := articleURL(edit.DiffURL)
		author := cleanAuthor(edit.Author)

		var content string
		switch {
		case article != "" && author != "":
			content = fmt.Sprintf("📝 %s edited %s 📄 #hitchhiking", author, article)
		case article != "":
			content = fmt.Sprintf("📝 edited %s 📄 #hitchhiking", article)
		default:
			content = fmt.Sprintf("📝 %s 📄 #hitchhiking", edit.Title)
		}

		summary := cleanSummary(edit.Summary)
		if summary == "" {
			if author != "" {
				summary = fmt.Sprintf("Hitchwiki article '%s' was edited by %s", edit.Title, author)
			} else {
				summary = fmt.Sprintf("Hitchwiki article '%s' was edited", edit.Title)
			}
		}

		tags := nostr.Tags{
			{"r", edit.DiffURL},
			{"summary", summary},
			{"t", "hitchhiking"},
			{"t", "hitchwiki"},
		}

		if info := s.fetchGeo(ctx, article); info != nil {
			tags = append(tags,
				nostr.Tag{"g", fmt.Sprintf("%.6f,%.6f", info.Lat, info.Lng)},
				nostr.Tag{"L", "open-location-code"},
				nostr.Tag{"l", info.PlusCode, "open-location-code"},
				nostr.Tag{"g", info.Geohash},
			)
		}

		return &nostr.Event{
			Kind:      nostr.KindTextNote,
			Content:   content,
			Tags:      tags,
			CreatedAt: nostr.Now(),
		}, nil
	}
}

// fetchGeo pulls the article page and scans it for embedded coordinates.
// Geo data is nice to have; any failure just means an untagged note.
func (s *Source) fetchGeo(ctx context.Context, article string) *geo.Info {
	if article == "" {
		return nil
	}
	body, err := s.fetch.Get(ctx, article)
	if err != nil {
		s.log.Debug("geo fetch failed", logx.String("url", article), logx.Err(err))
		return nil
	}
	return geo.ExtractFromPage(string(body))
}
