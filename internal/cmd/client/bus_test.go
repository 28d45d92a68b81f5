package client

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/relaybus/relay/internal/config"
	"github.com/relaybus/relay/internal/runtime"
	httpserver "github.com/relaybus/relay/internal/server/http"
	logpkg "github.com/relaybus/relay/pkg/log"
)

func TestParseChannelArgs(t *testing.T) {
	got, err := parseChannelArgs([]string{"/chat", "/notices=5", "/now=-1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(got["/chat"]) != "0" || string(got["/notices"]) != "5" || string(got["/now"]) != "-1" {
		t.Fatalf("cursors: %v", got)
	}
	if _, err := parseChannelArgs([]string{"=5"}); err == nil {
		t.Fatalf("empty name accepted")
	}
	if _, err := parseChannelArgs([]string{"/chat=abc"}); err == nil {
		t.Fatalf("bad cursor accepted")
	}
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	ts := httptest.NewServer(httpserver.New(rt, logger).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = rt.Close()
	})
	return ts
}

func TestPublishAndPollCommands(t *testing.T) {
	ts := newAPIServer(t)
	base := func() string { return ts.URL }

	var out bytes.Buffer
	pub := NewBusCommand(base)
	pub.SetOut(&out)
	pub.SetArgs([]string{"publish", "--channel", "/chat", "--data", `{"text":"hi"}`})
	if err := pub.Execute(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var ids map[string]uint64
	if err := json.Unmarshal(out.Bytes(), &ids); err != nil {
		t.Fatalf("publish output: %v", err)
	}
	if ids["message_id"] != 1 {
		t.Fatalf("ids: %v", ids)
	}

	out.Reset()
	poll := NewBusCommand(base)
	poll.SetOut(&out)
	poll.SetArgs([]string{"poll", "--channel", "/chat", "--client-id", "c1"})
	if err := poll.Execute(); err != nil {
		t.Fatalf("poll: %v", err)
	}
	var m wireMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &m); err != nil {
		t.Fatalf("poll output: %v", err)
	}
	if m.Channel != "/chat" || m.MessageID != 1 {
		t.Fatalf("message: %+v", m)
	}
}

func TestBacklogAndLastIDCommands(t *testing.T) {
	ts := newAPIServer(t)
	base := func() string { return ts.URL }

	pub := NewBusCommand(base)
	pub.SetArgs([]string{"publish", "--channel", "/chat", "--data", "plain text"})
	if err := pub.Execute(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var out bytes.Buffer
	backlog := NewBusCommand(base)
	backlog.SetOut(&out)
	backlog.SetArgs([]string{"backlog", "--channel", "/chat"})
	if err := backlog.Execute(); err != nil {
		t.Fatalf("backlog: %v", err)
	}
	var m wireMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &m); err != nil {
		t.Fatalf("backlog output: %v", err)
	}
	var text string
	if err := json.Unmarshal(m.Data, &text); err != nil || text != "plain text" {
		t.Fatalf("payload: %s %v", m.Data, err)
	}

	out.Reset()
	lastID := NewBusCommand(base)
	lastID.SetOut(&out)
	lastID.SetArgs([]string{"last-id", "--channel", "/chat"})
	if err := lastID.Execute(); err != nil {
		t.Fatalf("last-id: %v", err)
	}
	if strings.TrimSpace(out.String()) != "1" {
		t.Fatalf("last id output: %q", out.String())
	}
}
