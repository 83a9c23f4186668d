// Package id mints the identifiers attached to orders leaving the engine.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader
	now     = time.Now
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic so ids minted within the same millisecond stay strictly increasing.
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a new ULID string. Safe for concurrent use.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now().UTC()), entropy)
	if err != nil {
		// Only possible if the monotonic counter overflows within one millisecond.
		panic(err)
	}
	return id.String()
}

// Time extracts the mint time encoded in an id produced by New.
func Time(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
