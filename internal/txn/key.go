package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// IdempotencyKey computes a deterministic fingerprint over the user, intent,
// and canonicalized slot map. Semantically identical requests always hash
// identically regardless of map iteration order or value formatting.
func IdempotencyKey(userID, intent string, slots map[string]string) string {
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(intent))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(canonicalValue(slots[name])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalValue normalizes a slot value: numeric strings lose leading
// zeros and sign quirks, everything else is lowercased with whitespace
// collapsed.
func canonicalValue(v string) string {
	trimmed := strings.TrimSpace(v)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
}
