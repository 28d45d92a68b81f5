package pebble

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/relaybus/relay/internal/backend"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// envelope is the message minus its payload, stored in the record header.
type envelope struct {
	GlobalID  uint64   `json:"g"`
	ChannelID uint64   `json:"c"`
	Channel   string   `json:"ch"`
	ClientIDs []string `json:"cids,omitempty"`
	UserIDs   []int64  `json:"uids,omitempty"`
}

func encodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

func decodeRecord(b []byte) (header, payload []byte, ok bool) {
	if len(b) < 1+4 {
		return nil, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, false
	}
	if n+int(hlen)+4 > len(b) {
		return nil, nil, false
	}
	header = b[n : n+int(hlen)]
	payload = b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return nil, nil, false
	}
	return append([]byte(nil), header...), append([]byte(nil), payload...), true
}

// encodeMessage renders a Message into record form.
func encodeMessage(m backend.Message) ([]byte, error) {
	hdr, err := json.Marshal(envelope{
		GlobalID:  m.GlobalID,
		ChannelID: m.ChannelID,
		Channel:   m.Channel,
		ClientIDs: m.ClientIDs,
		UserIDs:   m.UserIDs,
	})
	if err != nil {
		return nil, err
	}
	return encodeRecord(hdr, m.Data), nil
}

// decodeMessage parses a record back into a Message. Corrupt records are
// reported via ok=false and skipped by readers.
func decodeMessage(b []byte) (backend.Message, bool) {
	hdr, payload, ok := decodeRecord(b)
	if !ok {
		return backend.Message{}, false
	}
	var env envelope
	if err := json.Unmarshal(hdr, &env); err != nil {
		return backend.Message{}, false
	}
	return backend.Message{
		GlobalID:  env.GlobalID,
		ChannelID: env.ChannelID,
		Channel:   env.Channel,
		Data:      payload,
		ClientIDs: env.ClientIDs,
		UserIDs:   env.UserIDs,
	}, true
}
