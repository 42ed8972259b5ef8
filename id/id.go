// Package id mints the identifiers the journal keys on. Every ID is a
// ULID behind a short kind prefix, so a raw sqlite dump reads without a
// join ("ord_...", "dec_...", "cnd_...") and rows created in the same
// millisecond still sort in creation order within their kind.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// ulid.Monotonic needs a single seeded source; crypto/rand seeds it
	// so IDs are not guessable across restarts.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// Order mints an engine order ID.
func Order() string { return mint("ord") }

// Decision mints a gate decision ID.
func Decision() string { return mint("dec") }

// Candidate mints an evolution candidate ID.
func Candidate() string { return mint("cnd") }

// Kind reports the prefix of an ID minted here, or "" if the ID has no
// recognizable prefix.
func Kind(id string) string {
	prefix, _, ok := strings.Cut(id, "_")
	if !ok {
		return ""
	}
	switch prefix {
	case "ord", "dec", "cnd":
		return prefix
	}
	return ""
}

func mint(prefix string) string {
	mu.Lock()
	defer mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Only possible if time goes backwards or entropy fails.
		panic(err)
	}
	return prefix + "_" + u.String()
}
