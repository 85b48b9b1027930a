package mesh

import (
	"strings"
	"testing"
	"time"
)

func TestSignToken_Format(t *testing.T) {
	token := SignToken("secret", 0)
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		t.Fatalf("token %q not in ts.sig form", token)
	}
	if len(parts[1]) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(parts[1]))
	}
}

func TestVerifyToken_FreshnessWindow(t *testing.T) {
	secret := "shared-mesh-secret"
	now := time.Now().UnixMilli()

	tests := []struct {
		name   string
		minted int64
		want   bool
	}{
		{"current", now, true},
		{"30s old", now - 30_000, true},
		{"59s old", now - 59_000, true},
		{"61s old", now - 61_000, false},
		{"30s in the future", now + 30_000, true},
		{"61s in the future", now + 61_000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := SignToken(secret, tt.minted)
			if got := VerifyToken(token, secret); got != tt.want {
				t.Errorf("VerifyToken = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token := SignToken("secret-a", 0)
	if VerifyToken(token, "secret-b") {
		t.Error("token signed with a different secret verified")
	}
}

func TestVerifyToken_Malformed(t *testing.T) {
	for _, token := range []string{"", "no-dot", "notanumber.abcd", "123", "."} {
		if VerifyToken(token, "secret") {
			t.Errorf("malformed token %q verified", token)
		}
	}
}
