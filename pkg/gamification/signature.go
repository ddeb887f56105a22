package gamification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Trailpost-Signature"
	HeaderTimestamp = "X-Trailpost-Timestamp"
	HeaderAwardID   = "X-Trailpost-Award-ID"
)

// Sign returns the hex HMAC-SHA256 of "timestamp.payload".
func Sign(secret string, timestamp int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks the signature headers of a delivered award. Timestamps older
// than maxAge, or more than a minute in the future, are rejected.
func Verify(secret string, payload []byte, header http.Header, maxAge time.Duration, now time.Time) error {
	sig := header.Get(HeaderSignature)
	ts, err := strconv.ParseInt(header.Get(HeaderTimestamp), 10, 64)
	if sig == "" || err != nil {
		return fmt.Errorf("%w: missing signature headers", ErrSignatureMismatch)
	}

	if maxAge > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > maxAge || age < -time.Minute {
			return fmt.Errorf("%w: timestamp outside the accepted window", ErrSignatureMismatch)
		}
	}

	if !hmac.Equal([]byte(Sign(secret, ts, payload)), []byte(sig)) {
		return ErrSignatureMismatch
	}
	return nil
}
