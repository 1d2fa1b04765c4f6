// Package geo extracts coordinates from wiki article markup and encodes
// them as plus codes and geohashes for Nostr location tags.
package geo

import (
	"regexp"
	"strconv"

	olc "github.com/google/open-location-code/go"
	"github.com/mmcloughlin/geohash"
)

// Info carries a point plus its encoded forms.
type Info struct {
	Lat      float64
	Lng      float64
	PlusCode string
	Geohash  string
}

// Encode builds the plus code and geohash for a coordinate pair.
func Encode(lat, lng float64) Info {
	return Info{
		Lat:      lat,
		Lng:      lng,
		PlusCode: olc.Encode(lat, lng, 10),
		Geohash:  geohash.Encode(lat, lng),
	}
}

// Articles embed their map position in a <map lat= lng=> extension tag, but
// the rendered page may HTML-encode it, quote it either way, or wrap it in a
// div. Patterns are tried in order; first hit wins.
var mapPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<map[^>]*lat=['"]([0-9.-]+)['"][^>]*lng=['"]([0-9.-]+)['"]`),
	regexp.MustCompile(`&lt;map[^>]*lat=['"]([0-9.-]+)['"][^>]*lng=['"]([0-9.-]+)['"]`),
	regexp.MustCompile(`<div[^>]*class="[^"]*map[^"]*"[^>]*data-lat="([^"]+)"[^>]*data-lng="([^"]+)"`),
	regexp.MustCompile(`\|map\s*=\s*<map\s+lat="([^"]+)"\s+lng="([^"]+)"`),
	regexp.MustCompile(`&lt;map lat='([0-9.-]+)' lng='([0-9.-]+)'`),
	regexp.MustCompile(`<map lat='([0-9.-]+)' lng='([0-9.-]+)'`),
}

// ExtractFromPage scans article HTML for embedded coordinates.
// Returns nil when no pattern matches or the values don't parse.
func ExtractFromPage(content string) *Info {
	for _, re := range mapPatterns {
		m := re.FindStringSubmatch(content)
		if len(m) != 3 {
			continue
		}
		lat, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		info := Encode(lat, lng)
		return &info
	}
	return nil
}
