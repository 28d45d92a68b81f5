package pebble

import "encoding/binary"

var (
	chanPrefix   = []byte("ch/")
	globalPrefix = []byte("g/")
	metaSuffix   = []byte("/m")
	entrySeg     = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// appendChannelPrefix writes "ch/" plus a length-prefixed channel name. The
// length pins exactly where the name ends, so a channel named "a/e/b" can
// never alias into channel "a"'s entry or meta keyspace.
func appendChannelPrefix(dst []byte, channel string) []byte {
	dst = append(dst, chanPrefix...)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(channel)))
	dst = append(dst, n[:]...)
	dst = append(dst, channel...)
	return dst
}

// keyChannelMeta builds the per-channel metadata key.
func keyChannelMeta(channel string) []byte {
	k := make([]byte, 0, len(channel)+12)
	k = appendChannelPrefix(k, channel)
	k = append(k, metaSuffix...)
	return k
}

// keyChannelEntry builds an entry key with a big-endian id for ordered scans.
func keyChannelEntry(channel string, id uint64) []byte {
	k := make([]byte, 0, len(channel)+20)
	k = appendChannelPrefix(k, channel)
	k = append(k, entrySeg...)
	k = appendBE8(k, id)
	return k
}

// keyGlobalMeta is the global sequence metadata key.
func keyGlobalMeta() []byte {
	k := make([]byte, 0, 4)
	k = append(k, globalPrefix...)
	k = append(k, 'm')
	return k
}

// keyGlobalEntry builds a global backlog entry key.
func keyGlobalEntry(id uint64) []byte {
	k := make([]byte, 0, 12)
	k = append(k, globalPrefix...)
	k = append(k, 'e', '/')
	k = appendBE8(k, id)
	return k
}

// entryID extracts the big-endian id from the tail of an entry key.
func entryID(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
