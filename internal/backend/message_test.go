package backend

import (
	"encoding/json"
	"testing"
)

func TestTargetsClient(t *testing.T) {
	open := Message{}
	if !open.TargetsClient("abc") {
		t.Fatalf("unrestricted message should target any client")
	}
	restricted := Message{ClientIDs: []string{"a", "b"}}
	if !restricted.TargetsClient("b") {
		t.Fatalf("listed client should match")
	}
	if restricted.TargetsClient("c") {
		t.Fatalf("unlisted client should not match")
	}
}

func TestTargetsUser(t *testing.T) {
	restricted := Message{UserIDs: []int64{7}}
	if !restricted.TargetsUser(7, true) {
		t.Fatalf("listed user should match")
	}
	if restricted.TargetsUser(8, true) {
		t.Fatalf("unlisted user should not match")
	}
	if restricted.TargetsUser(0, false) {
		t.Fatalf("anonymous connection should never match a user-restricted message")
	}
	if !(Message{}).TargetsUser(0, false) {
		t.Fatalf("unrestricted message should target anonymous connections")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Message{
		GlobalID:  42,
		ChannelID: 3,
		Channel:   "/chat",
		Data:      json.RawMessage(`{"text":"hi"}`),
		UserIDs:   []int64{1, 2},
	}
	b, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeMessage(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.GlobalID != 42 || out.ChannelID != 3 || out.Channel != "/chat" {
		t.Fatalf("ids mismatch: %+v", out)
	}
	if string(out.Data) != `{"text":"hi"}` {
		t.Fatalf("data mismatch: %s", out.Data)
	}
}
