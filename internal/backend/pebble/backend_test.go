package pebble

import (
	"context"
	"fmt"
	"testing"

	"github.com/relaybus/relay/internal/backend"
	pebblestore "github.com/relaybus/relay/internal/storage/pebble"
)

func openTestBackend(t *testing.T, dir string) *Backend {
	t.Helper()
	b, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	return b
}

func TestPublishAndBacklog(t *testing.T) {
	b := openTestBackend(t, t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		m, err := b.Publish(ctx, "/chat", []byte(fmt.Sprintf(`"p%d"`, i)), backend.PublishOptions{})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if m.ChannelID != uint64(i) {
			t.Fatalf("channel id: want %d got %d", i, m.ChannelID)
		}
	}
	msgs, err := b.Backlog(ctx, "/chat", 1)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ChannelID != uint64(2+i) {
			t.Fatalf("id[%d]: %d", i, m.ChannelID)
		}
	}
}

func TestEvictionScenario(t *testing.T) {
	b := openTestBackend(t, t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := b.Publish(ctx, "chat", []byte(fmt.Sprintf(`"m%d"`, i)), backend.PublishOptions{MaxBacklogSize: 3}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	msgs, err := b.Backlog(ctx, "chat", 0)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 retained, got %d", len(msgs))
	}
	for i, want := range []uint64{3, 4, 5} {
		if msgs[i].ChannelID != want {
			t.Fatalf("id[%d]: want %d got %d", i, want, msgs[i].ChannelID)
		}
		if string(msgs[i].Data) != fmt.Sprintf(`"m%d"`, want) {
			t.Fatalf("payload[%d]: %s", i, msgs[i].Data)
		}
	}
}

func TestChannelNamesWithSlashesStayIsolated(t *testing.T) {
	b := openTestBackend(t, t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	// "chat/e/sub" would sort inside a naive "chat" entry range.
	if _, err := b.Publish(ctx, "chat", []byte(`"base"`), backend.PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, "chat/e/sub", []byte(`"nested"`), backend.PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := b.Backlog(ctx, "chat", 0)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Channel != "chat" {
		t.Fatalf("chat backlog crossed channels: %+v", msgs)
	}
	msgs, err = b.Backlog(ctx, "chat/e/sub", 0)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Channel != "chat/e/sub" {
		t.Fatalf("nested backlog crossed channels: %+v", msgs)
	}

	// Trimming "chat" must never delete the other channel's entries or meta.
	for i := 0; i < 4; i++ {
		if _, err := b.Publish(ctx, "chat", []byte(`"fill"`), backend.PublishOptions{MaxBacklogSize: 2}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	msgs, err = b.Backlog(ctx, "chat/e/sub", 0)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("trim on chat touched chat/e/sub: %d entries", len(msgs))
	}
	if id, _ := b.LastID(ctx, "chat/e/sub"); id != 1 {
		t.Fatalf("last id for chat/e/sub: %d", id)
	}
}

func TestCountersDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	b := openTestBackend(t, dir)
	ctx := context.Background()

	m1, err := b.Publish(ctx, "/chat", []byte(`"x"`), backend.PublishOptions{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, "/other", []byte(`"y"`), backend.PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b2 := openTestBackend(t, dir)
	t.Cleanup(func() { _ = b2.Close() })
	if id, _ := b2.GlobalLastID(ctx); id != 2 {
		t.Fatalf("global id after reopen: %d", id)
	}
	if id, _ := b2.LastID(ctx, "/chat"); id != m1.ChannelID {
		t.Fatalf("channel id after reopen: %d", id)
	}
	m3, err := b2.Publish(ctx, "/chat", []byte(`"z"`), backend.PublishOptions{})
	if err != nil {
		t.Fatalf("publish after reopen: %v", err)
	}
	if m3.ChannelID != m1.ChannelID+1 {
		t.Fatalf("sequence did not continue: %d", m3.ChannelID)
	}
	if m3.GlobalID != 3 {
		t.Fatalf("global sequence did not continue: %d", m3.GlobalID)
	}
	// history is still readable
	msgs, _ := b2.Backlog(ctx, "/chat", 0)
	if len(msgs) != 2 {
		t.Fatalf("backlog after reopen: %d", len(msgs))
	}
}

func TestGlobalBacklogSpansChannels(t *testing.T) {
	b := openTestBackend(t, t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	for _, ch := range []string{"/a", "/b", "/a"} {
		if _, err := b.Publish(ctx, ch, []byte(`1`), backend.PublishOptions{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	msgs, err := b.GlobalBacklog(ctx, 1)
	if err != nil {
		t.Fatalf("global backlog: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2, got %d", len(msgs))
	}
	if msgs[0].Channel != "/b" || msgs[1].Channel != "/a" {
		t.Fatalf("channels: %s %s", msgs[0].Channel, msgs[1].Channel)
	}
}

func TestResetClearsEverything(t *testing.T) {
	b := openTestBackend(t, t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	_, _ = b.Publish(ctx, "/chat", []byte(`1`), backend.PublishOptions{})
	if err := b.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if id, _ := b.GlobalLastID(ctx); id != 0 {
		t.Fatalf("global id after reset: %d", id)
	}
	msgs, _ := b.Backlog(ctx, "/chat", 0)
	if len(msgs) != 0 {
		t.Fatalf("backlog after reset: %d", len(msgs))
	}
}
