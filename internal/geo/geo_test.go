package geo

import (
	"math"
	"testing"
)

func TestExtractFromPage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		content  string
		wantLat  float64
		wantLng  float64
		wantMiss bool
	}{
		{
			name:    "double quoted map tag",
			content: `<p>intro</p><map lat="52.3676" lng="4.9041" zoom="12"/>`,
			wantLat: 52.3676, wantLng: 4.9041,
		},
		{
			name:    "single quoted map tag",
			content: `<map lat='48.8566' lng='2.3522'>`,
			wantLat: 48.8566, wantLng: 2.3522,
		},
		{
			name:    "html encoded",
			content: `&lt;map lat='-33.8688' lng='151.2093'&gt;`,
			wantLat: -33.8688, wantLng: 151.2093,
		},
		{
			name:    "data attributes on div",
			content: `<div class="article map widget" data-lat="40.4168" data-lng="-3.7038"></div>`,
			wantLat: 40.4168, wantLng: -3.7038,
		},
		{
			name:    "raw template parameter",
			content: `|map = <map lat="59.3293" lng="18.0686">`,
			wantLat: 59.3293, wantLng: 18.0686,
		},
		{
			name:     "no coordinates",
			content:  `<p>A page about hitchhiking with no map.</p>`,
			wantMiss: true,
		},
		{
			name:     "unparsable values",
			content:  `<div class="map" data-lat="north" data-lng="west"></div>`,
			wantMiss: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractFromPage(tc.content)
			if tc.wantMiss {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil, want coordinates")
			}
			if math.Abs(got.Lat-tc.wantLat) > 1e-9 || math.Abs(got.Lng-tc.wantLng) > 1e-9 {
				t.Errorf("got (%v, %v), want (%v, %v)", got.Lat, got.Lng, tc.wantLat, tc.wantLng)
			}
			if got.PlusCode == "" || got.Geohash == "" {
				t.Errorf("encodings missing: %+v", got)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	info := Encode(52.3676, 4.9041)
	if info.PlusCode == "" {
		t.Error("plus code empty")
	}
	if len(info.Geohash) != 12 {
		t.Errorf("geohash %q, want full 12-char precision", info.Geohash)
	}
}
