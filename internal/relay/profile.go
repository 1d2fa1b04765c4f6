package relay

import (
	"context"
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// Profile is the bot's kind-0 metadata.
type Profile struct {
	Name           string `json:"name"`
	About          string `json:"about"`
	Website        string `json:"website"`
	Picture        string `json:"picture"`
	NIP05          string `json:"nip05"`
	Lud16          string `json:"lud16"`
	Bot            bool   `json:"bot"`
	BotDescription string `json:"bot_description"`
}

// DefaultProfile is what the bot publishes when no matching profile exists.
var DefaultProfile = Profile{
	Name:           "nostrhitchbot",
	About:          "Bot that posts Hitchwiki and Hitchmap updates to Nostr. Follows recent changes from hitchwiki.org and hitchmap.com data.",
	Website:        "https://hitchwiki.org/en/Hitchwiki:Nostrhitch",
	Picture:        "https://hitchwiki.org/en/images/en/c/c1/Nostrhitch.jpg",
	NIP05:          "nostrhitch@hitchwiki.org",
	Lud16:          "nostrhitch@hitchwiki.org",
	Bot:            true,
	BotDescription: "Posts Hitchwiki recent changes and Hitchmap data to Nostr relays",
}

// matches reports whether an existing kind-0 content already carries the
// fields we care about. Extra fields in the stored profile are fine.
func (p Profile) matches(content string) bool {
	var got map[string]any
	if err := json.Unmarshal([]byte(content), &got); err != nil {
		return false
	}
	str := func(k string) string {
		s, _ := got[k].(string)
		return s
	}
	return str("nip05") == p.NIP05 &&
		str("name") == p.Name &&
		str("website") == p.Website &&
		str("picture") == p.Picture
}

// EnsureProfile publishes the profile unless an up-to-date one is already on
// a relay. Profile upkeep runs even in dry-run; it is identity, not content.
func (c *Client) EnsureProfile(ctx context.Context, p Profile) error {
	existing := c.Query(ctx, nostr.Filter{
		Authors: []string{c.pk},
		Kinds:   []int{nostr.KindProfileMetadata},
		Limit:   1,
	})
	for _, ev := range existing {
		if p.matches(ev.Content) {
			c.log.Debug("profile up to date", logx.String("name", p.Name))
			return nil
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ev := &nostr.Event{
		Kind:      nostr.KindProfileMetadata,
		Content:   string(body),
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"nip05", p.NIP05}},
	}
	if err := c.Publish(ctx, ev); err != nil {
		return err
	}
	c.log.Info("profile published", logx.String("name", p.Name), logx.String("nip05", p.NIP05))
	return nil
}
