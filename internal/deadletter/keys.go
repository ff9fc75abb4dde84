package deadletter

import "github.com/rzbill/relay/pkg/id"

// Keyspace:
//   dl/<16-byte sortable id> -> JSON-encoded Entry
//
// The id embeds the failure timestamp, so a forward scan over the prefix
// yields entries oldest first.
var keyPrefix = []byte("dl/")

func entryKey(eid id.ID) []byte {
	k := make([]byte, 0, len(keyPrefix)+16)
	k = append(k, keyPrefix...)
	return append(k, eid.Bytes()...)
}

// prefixBounds returns [lower, upper) iterator bounds covering the keyspace.
func prefixBounds() (lower, upper []byte) {
	lower = append([]byte(nil), keyPrefix...)
	upper = append([]byte(nil), keyPrefix...)
	upper[len(upper)-1]++
	return lower, upper
}
