package backend

import "encoding/json"

// Message is a single published event. Immutable once created.
//
// ChannelID is strictly increasing and gapless per channel for appended
// messages; gaps observed by a reader mean older entries were evicted.
// GlobalID totally orders messages across channels.
type Message struct {
	GlobalID  uint64          `json:"global_id"`
	ChannelID uint64          `json:"channel_id"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	ClientIDs []string        `json:"client_ids,omitempty"`
	UserIDs   []int64         `json:"user_ids,omitempty"`
}

// TargetsClient reports whether the message may be delivered to clientID.
// A message with no client restriction targets every client.
func (m Message) TargetsClient(clientID string) bool {
	if len(m.ClientIDs) == 0 {
		return true
	}
	for _, id := range m.ClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}

// TargetsUser reports whether the message may be delivered to userID. The
// hasUser flag distinguishes anonymous connections, which never match a
// user-restricted message.
func (m Message) TargetsUser(userID int64, hasUser bool) bool {
	if len(m.UserIDs) == 0 {
		return true
	}
	if !hasUser {
		return false
	}
	for _, id := range m.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Encode renders the message as its JSON wire form.
func (m Message) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeMessage parses a message from its JSON wire form.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(b, &m)
	return m, err
}
