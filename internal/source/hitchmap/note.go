package hitchmap

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/internal/geo"
)

// noteBuilder returns the deferred event constructor for one map point.
func noteBuilder(p Point) func(ctx context.Context) (*nostr.Event, error) {
	return func(ctx context.Context) (*nostr.Event, error) {
		content := fmt.Sprintf("hitchmap.com %s: %s #hitchhiking",
			p.Hitchhiker.String, p.Description.String)

		info := geo.Encode(p.Lat, p.Lng)
		plus := info.PlusCode

		tags := nostr.Tags{
			{"d", fmt.Sprintf("%d", p.ID)},
			{"g", fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)},
			{"L", "open-location-code"},
			{"l", plus, "open-location-code"},
			{"L", "open-location-code-prefix"},
			// Coarser prefixes let clients subscribe by area.
			{"l", plus[:6] + "00+", plus[:4] + "0000+", plus[:2] + "000000+", "open-location-code-prefix"},
			{"L", "trustroots-circle"},
			{"l", "hitchhikers", "trustroots-circle"},
			{"g", info.Geohash},
			{"t", "hitchmap"},
			{"t", "map-notes"},
		}

		return &nostr.Event{
			Kind:      nostr.KindTextNote,
			Content:   content,
			Tags:      tags,
			CreatedAt: nostr.Now(),
		}, nil
	}
}
