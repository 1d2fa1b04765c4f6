package hitchwiki

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	body, ok := f.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(body), nil
}

const atomFeed = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Hitchwiki - Recent changes [en]</title>
  <entry>
    <id>https://hitchwiki.org/en/index.php?title=Berlin&amp;diff=115000&amp;oldid=114000</id>
    <title>Berlin</title>
    <link rel="alternate" type="text/html" href="https://hitchwiki.org/en/index.php?title=Berlin&amp;diff=115000&amp;oldid=114000"/>
    <updated>2026-08-20T10:00:00Z</updated>
    <author><name>RoadsideSam</name></author>
    <summary type="html">&lt;p&gt;Updated ring road section&lt;/p&gt;</summary>
  </entry>
  <entry>
    <id>https://hitchwiki.org/en/index.php?title=Hamburg&amp;diff=115001&amp;oldid=114500</id>
    <title>Hamburg</title>
    <link rel="alternate" type="text/html" href="https://hitchwiki.org/en/index.php?title=Hamburg&amp;diff=115001&amp;oldid=114500"/>
    <updated>2026-08-20T11:00:00Z</updated>
    <author><name>Mira</name></author>
    <summary type="html">fixed typo Revision as of 11:00, 20 August 2026 diff table here</summary>
  </entry>
</feed>`

func newTestSource(pages map[string]string, langs ...string) *Source {
	return New(&fakeFetcher{pages: pages}, Options{
		BaseURL:   "https://hitchwiki.org",
		Languages: langs,
		// no delay in tests
	}, logx.Nop())
}

func TestFetchParsesFeed(t *testing.T) {
	t.Parallel()

	s := newTestSource(map[string]string{
		"https://hitchwiki.org/en/api.php?hidebots=1&urlversion=1&days=7&limit=50&action=feedrecentchanges&feedformat=atom": atomFeed,
	}, "en")

	items, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	wantID := "https://hitchwiki.org/en/index.php?title=Berlin&diff=115000&oldid=114000"
	if items[0].ID != wantID {
		t.Errorf("item id = %q, want the diff URL", items[0].ID)
	}
}

func TestFetchSkipsFailingLanguages(t *testing.T) {
	t.Parallel()

	s := newTestSource(map[string]string{
		"https://hitchwiki.org/de/api.php?hidebots=1&urlversion=1&days=7&limit=50&action=feedrecentchanges&feedformat=atom": atomFeed,
	}, "en", "de") // en has no fixture and fails

	items, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2 from the surviving language", len(items))
	}
}

func TestNoteBuilderContent(t *testing.T) {
	t.Parallel()

	articlePage := `<html><map lat="52.5200" lng="13.4050"></html>`
	s := newTestSource(map[string]string{
		"https://hitchwiki.org/en/Berlin": articlePage,
	}, "en")

	build := s.noteBuilder(Edit{
		Title:   "Berlin",
		Author:  "RoadsideSam",
		Summary: "<p>Updated ring road section</p>",
		DiffURL: "https://hitchwiki.org/en/index.php?title=Berlin&diff=115000&oldid=114000",
		Lang:    "en",
	})
	ev, err := build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := "📝 RoadsideSam edited https://hitchwiki.org/en/Berlin 📄 #hitchhiking"
	if ev.Content != want {
		t.Errorf("content = %q, want %q", ev.Content, want)
	}

	var gotR, gotSummary string
	var topics []string
	geoTags := 0
	for _, tag := range ev.Tags {
		switch tag[0] {
		case "r":
			gotR = tag[1]
		case "summary":
			gotSummary = tag[1]
		case "t":
			topics = append(topics, tag[1])
		case "g":
			geoTags++
		}
	}
	if !strings.Contains(gotR, "diff=115000") {
		t.Errorf("r tag = %q, want the diff URL", gotR)
	}
	if gotSummary != "Updated ring road section" {
		t.Errorf("summary tag = %q", gotSummary)
	}
	if len(topics) != 2 || topics[0] != "hitchhiking" || topics[1] != "hitchwiki" {
		t.Errorf("topic tags = %v", topics)
	}
	if geoTags != 2 {
		t.Errorf("got %d g tags, want coordinate pair and geohash", geoTags)
	}
}

func TestNoteBuilderWithoutGeo(t *testing.T) {
	t.Parallel()

	// Article page fetch fails; note still builds, just without location tags.
	s := newTestSource(map[string]string{}, "en")
	build := s.noteBuilder(Edit{
		Title:   "Phantom",
		DiffURL: "https://hitchwiki.org/en/index.php?title=Phantom&diff=9&oldid=8",
	})
	ev, err := build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, tag := range ev.Tags {
		if tag[0] == "g" {
			t.Errorf("unexpected geo tag %v", tag)
		}
	}
	if want := "📝 edited https://hitchwiki.org/en/Phantom 📄 #hitchhiking"; ev.Content != want {
		t.Errorf("content = %q, want %q", ev.Content, want)
	}
}

func TestArticleURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{
			"https://hitchwiki.org/en/index.php?title=Berlin&diff=1&oldid=0",
			"https://hitchwiki.org/en/Berlin",
		},
		{
			"https://hitchwiki.org/ru/index.php?title=%D0%9A%D1%83%D0%B1%D0%B0&diff=114734&oldid=109364",
			"https://hitchwiki.org/ru/%D0%9A%D1%83%D0%B1%D0%B0",
		},
		{"https://example.org/en/index.php?title=X", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := articleURL(tc.in); got != tc.want {
			t.Errorf("articleURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanAuthor(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"<a href=\"/user\">Sam</a>", "Sam"},
		{"Mira!?", "Mira"},
		{"  spaced-name  ", "spaced-name"},
	}
	for _, tc := range cases {
		if got := cleanAuthor(tc.in); got != tc.want {
			t.Errorf("cleanAuthor(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanSummary(t *testing.T) {
	t.Parallel()

	if got := cleanSummary("fix   typo Revision as of 11:00 big diff table"); got != "fix typo" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 200)
	if got := cleanSummary(long); len(got) != 163 || !strings.HasSuffix(got, "...") {
		t.Errorf("long summary not truncated: len=%d", len(got))
	}
}

func TestFeedURL(t *testing.T) {
	t.Parallel()

	s := newTestSource(nil, "en")
	got := s.feedURL("fi")
	want := "https://hitchwiki.org/fi/api.php?hidebots=1&urlversion=1&days=7&limit=50&action=feedrecentchanges&feedformat=atom"
	if got != want {
		t.Errorf("feedURL = %q, want %q", got, want)
	}
}
