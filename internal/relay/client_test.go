package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// nip19 test vector keypair; never used for anything real.
const testNsec = "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5"

type fakeConn struct {
	url        string
	publishErr error
	queryErr   error
	events     []*nostr.Event

	published []nostr.Event
	closed    atomic.Int64
}

func (f *fakeConn) Publish(ctx context.Context, ev nostr.Event) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeConn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.events, nil
}

func (f *fakeConn) Close() error {
	f.closed.Add(1)
	return nil
}

func newTestClient(t *testing.T, conns map[string]*fakeConn) *Client {
	t.Helper()
	urls := make([]string, 0, len(conns))
	for u := range conns {
		urls = append(urls, u)
	}
	c, err := New(testNsec, urls, logx.Nop(), WithDial(func(ctx context.Context, url string) (Conn, error) {
		fc, ok := conns[url]
		if !ok {
			return nil, errors.New("unknown relay")
		}
		fc.url = url
		return fc, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestNewRejectsBadKeys(t *testing.T) {
	t.Parallel()

	for _, nsec := range []string{"", "hunter2", "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6"} {
		if _, err := New(nsec, []string{"wss://x"}, logx.Nop()); err == nil {
			t.Errorf("New(%q) should fail", nsec)
		}
	}
}

func TestPublishSucceedsOnPartialAck(t *testing.T) {
	t.Parallel()

	good := &fakeConn{}
	bad := &fakeConn{publishErr: errors.New("rate-limited")}
	c := newTestClient(t, map[string]*fakeConn{
		"wss://good.example": good,
		"wss://bad.example":  bad,
	})

	ev := &nostr.Event{Kind: nostr.KindTextNote, Content: "hello", CreatedAt: nostr.Now()}
	if err := c.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(good.published) != 1 {
		t.Fatalf("good relay got %d events, want 1", len(good.published))
	}
	if sent := good.published[0]; sent.Sig == "" || sent.PubKey != c.PublicKey() {
		t.Errorf("event not signed properly: sig=%q pubkey=%q", sent.Sig, sent.PubKey)
	}
}

func TestPublishFailsWhenAllReject(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, map[string]*fakeConn{
		"wss://a.example": {publishErr: errors.New("blocked")},
		"wss://b.example": {publishErr: errors.New("blocked")},
	})

	ev := &nostr.Event{Kind: nostr.KindTextNote, Content: "hello", CreatedAt: nostr.Now()}
	if err := c.Publish(context.Background(), ev); err == nil {
		t.Fatal("expected error when every relay rejects")
	}
}

func TestQueryMergesAndSkipsFailures(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, map[string]*fakeConn{
		"wss://a.example": {events: []*nostr.Event{{ID: "e1"}, {ID: "e2"}}},
		"wss://b.example": {queryErr: errors.New("timeout")},
		"wss://c.example": {events: []*nostr.Event{{ID: "e3"}}},
	})

	got := c.Query(context.Background(), nostr.Filter{Limit: 10})
	if len(got) != 3 {
		t.Errorf("got %d events, want 3", len(got))
	}
}

func TestCloseAllIsIdempotent(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	c := newTestClient(t, map[string]*fakeConn{"wss://a.example": fc})

	c.CloseAll()
	c.CloseAll()
	if got := fc.closed.Load(); got != 1 {
		t.Errorf("Close called %d times, want 1", got)
	}
}

func TestEnsureProfileSkipsWhenCurrent(t *testing.T) {
	t.Parallel()

	current := &nostr.Event{
		Kind:    nostr.KindProfileMetadata,
		Content: `{"name":"nostrhitchbot","nip05":"nostrhitch@hitchwiki.org","website":"https://hitchwiki.org/en/Hitchwiki:Nostrhitch","picture":"https://hitchwiki.org/en/images/en/c/c1/Nostrhitch.jpg"}`,
	}
	fc := &fakeConn{events: []*nostr.Event{current}}
	c := newTestClient(t, map[string]*fakeConn{"wss://a.example": fc})

	if err := c.EnsureProfile(context.Background(), DefaultProfile); err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if len(fc.published) != 0 {
		t.Errorf("profile republished %d times, want 0", len(fc.published))
	}
}

func TestEnsureProfilePublishesWhenStale(t *testing.T) {
	t.Parallel()

	stale := &nostr.Event{Kind: nostr.KindProfileMetadata, Content: `{"name":"oldbot"}`}
	fc := &fakeConn{events: []*nostr.Event{stale}}
	c := newTestClient(t, map[string]*fakeConn{"wss://a.example": fc})

	if err := c.EnsureProfile(context.Background(), DefaultProfile); err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if len(fc.published) != 1 {
		t.Fatalf("published %d events, want 1", len(fc.published))
	}
	if k := fc.published[0].Kind; k != nostr.KindProfileMetadata {
		t.Errorf("kind = %d, want %d", k, nostr.KindProfileMetadata)
	}
}
