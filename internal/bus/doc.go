// Package bus implements the real-time message bus core: channel
// configuration and permissions, the long-poll session state machine, and
// the dispatcher that wakes waiting sessions when the backend reports new
// messages.
//
// A session moves OPEN -> WAITING -> {DELIVERED, TIMED_OUT, CLOSED}. A poll
// first attempts immediate backlog catch-up; only an empty catch-up parks
// the session in the subscriber index. Delivery always re-reads the backlog
// since the session's cursors, so wake-ups are idempotent and a session
// waiting on several busy channels is delivered exactly once with all
// applicable messages batched.
//
// Example:
//
//	be := memory.New(memory.Options{})
//	b := bus.New(be, logger, bus.Options{PollTimeout: 25 * time.Second})
//	defer b.Close()
//	_, _ = b.Publish(ctx, "/chat", []byte(`{"text":"hi"}`), backend.PublishOptions{})
//	msgs, _ := b.Poll(ctx, bus.PollRequest{ClientID: "c1", Channels: map[string]uint64{"/chat": 0}})
package bus
