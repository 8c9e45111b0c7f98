package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken("secret", 42, 60)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}

	claims, err := ParseToken("secret", tok)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if claims.Issuer != "marketchat" {
		t.Errorf("Issuer = %q, want marketchat", claims.Issuer)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	tok, err := NewToken("secret", 1, 60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken("other", tok); err == nil {
		t.Error("ParseToken() accepted token signed with a different secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	claims := Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC().Add(-time.Hour)),
			Issuer:    "marketchat",
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken("secret", tok); err == nil {
		t.Error("ParseToken() accepted expired token")
	}
}

func TestGarbageRejected(t *testing.T) {
	if _, err := ParseToken("secret", "not.a.jwt"); err == nil {
		t.Error("ParseToken() accepted garbage")
	}
}
