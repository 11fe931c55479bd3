package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed, sortable ULID like "dlv_01H...".
func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

const keyCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(keyCharset))))
		b[i] = keyCharset[idx.Int64()]
	}
	return string(b)
}

// NewAPIKey returns a bearer key for user authentication.
func NewAPIKey() string {
	return fmt.Sprintf("sk_%s", randomString(32))
}

// NewSecret returns a signing secret for a webhook. Secrets are generated
// server-side and are never re-derivable from dispatcher output.
func NewSecret() string {
	return fmt.Sprintf("whsec_%s", randomString(40))
}
