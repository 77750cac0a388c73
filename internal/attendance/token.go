package attendance

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// newToken mints an opaque rotating token: 128 bits of randomness plus a unix
// timestamp suffix. The suffix carries no security weight; it keeps tokens
// unique across rotations even in the astronomically unlikely event of a
// random collision, and makes captured tokens easy to date in logs.
func newToken(now time.Time) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(buf) + "_" + fmt.Sprintf("%d", now.Unix()), nil
}
