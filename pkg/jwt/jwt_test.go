package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

func signToken(t testing.TB, userID string, expiresIn time.Duration) string {
	t.Helper()

	claims := gojwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  gojwt.NewNumericDate(time.Now()),
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(expiresIn)),
	}

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("remote-signing-key"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func TestInspect(t *testing.T) {
	token := signToken(t, "user-123", 1*time.Hour)

	info, err := Inspect(token)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	if info.UserID != "user-123" {
		t.Errorf("Inspect() UserID = %q, want %q", info.UserID, "user-123")
	}

	wantExpiry := time.Now().Add(1 * time.Hour)
	if info.ExpiresAt.Before(wantExpiry.Add(-5*time.Second)) || info.ExpiresAt.After(wantExpiry.Add(5*time.Second)) {
		t.Errorf("Inspect() ExpiresAt = %v, want ~%v", info.ExpiresAt, wantExpiry)
	}
}

func TestInspectErrors(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "garbage token",
			token: "not.a.token",
		},
		{
			name:  "empty token",
			token: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Inspect(tt.token); err == nil {
				t.Error("Inspect() expected error but got none")
			}
		})
	}
}

func TestInspectNoExpiry(t *testing.T) {
	claims := gojwt.RegisteredClaims{Subject: "user-456"}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("key"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	if _, err := Inspect(token); err != ErrNoExpiry {
		t.Errorf("Inspect() error = %v, want ErrNoExpiry", err)
	}
}

func TestExpired(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		leeway time.Duration
		want   bool
	}{
		{
			name:   "fresh token",
			token:  signToken(t, "u1", 1*time.Hour),
			leeway: 0,
			want:   false,
		},
		{
			name:   "already expired",
			token:  signToken(t, "u1", -1*time.Minute),
			leeway: 0,
			want:   true,
		},
		{
			name:   "expires within leeway",
			token:  signToken(t, "u1", 10*time.Second),
			leeway: 30 * time.Second,
			want:   true,
		},
		{
			name:   "malformed",
			token:  "broken",
			leeway: 0,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.token, tt.leeway); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
