package mesh

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Every inter-node request carries a mesh token: an HMAC-SHA256 signature
// over a millisecond timestamp. Nodes sharing the same secret verify each
// other without a central auth service.

// TokenTTL bounds token validity to absorb clock skew.
const TokenTTL = 60 * time.Second

// SignToken creates a token of the form "<unix_ms>.<hex signature>".
func SignToken(secret string, timestampMS int64) string {
	if timestampMS == 0 {
		timestampMS = time.Now().UnixMilli()
	}
	ts := strconv.FormatInt(timestampMS, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	return fmt.Sprintf("%s.%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// VerifyToken checks the signature with a constant-time compare and the
// timestamp against the TTL window.
func VerifyToken(token, secret string) bool {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}

	skew := time.Now().UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > TokenTTL.Milliseconds() {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(parts[0]))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(parts[1]), []byte(expected))
}
