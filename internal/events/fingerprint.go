package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint computes the stable idempotency key for an event. The hash
// covers a canonicalized representation of the semantic fields only: kind,
// subject, minute, and the disambiguating attributes, each trimmed and
// sorted so that field order and whitespace drift never produce a second
// key for the same event.
func Fingerprint(e Event) string {
	lines := make([]string, 0, len(e.Attributes)+3)
	lines = append(lines,
		"kind="+canonical(e.Kind),
		"subject="+canonical(e.SubjectID),
		fmt.Sprintf("minute=%d", e.OccurredAtMinute),
	)
	for key, value := range e.Attributes {
		k, v := canonical(key), canonical(value)
		// Length-prefix both halves so separator characters inside a key
		// or value cannot collide with another attribute's encoding.
		lines = append(lines, fmt.Sprintf("attr=%d:%s=%d:%s", len(k), k, len(v), v))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func canonical(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
