// Package xid issues opaque string ids for rows that are written once and
// never updated, such as audit log entries.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const tailBytes = 6

// New returns "{prefix}-{unixnano}-{random hex}". The timestamp keeps ids
// roughly sortable by creation time; the random tail disambiguates writes
// landing in the same nanosecond. If the random source fails the tail is
// dropped rather than failing the write.
func New(prefix string) string {
	stamp := time.Now().UnixNano()
	tail := make([]byte, tailBytes)
	if _, err := rand.Read(tail); err != nil {
		return fmt.Sprintf("%s-%d", prefix, stamp)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, stamp, hex.EncodeToString(tail))
}
