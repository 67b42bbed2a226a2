package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	cfg := &JWTConfig{Secret: "s3cret", ExpireTime: time.Hour}

	token, err := GenerateJWT("64b7f0c2a1e4d3b2c1a09f8e", "alice", cfg)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	claims, err := ValidateJWT(token, "s3cret")
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if claims.UserID != "64b7f0c2a1e4d3b2c1a09f8e" || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateJWTRejects(t *testing.T) {
	cfg := &JWTConfig{Secret: "s3cret", ExpireTime: time.Hour}
	good, _ := GenerateJWT("64b7f0c2a1e4d3b2c1a09f8e", "alice", cfg)
	expired, _ := GenerateJWT("64b7f0c2a1e4d3b2c1a09f8e", "alice", &JWTConfig{Secret: "s3cret", ExpireTime: -time.Minute})
	noUser, _ := GenerateJWT("", "alice", cfg)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"empty", "", "s3cret"},
		{"wrong secret", good, "other"},
		{"expired", expired, "s3cret"},
		{"missing user id", noUser, "s3cret"},
		{"garbage", "not.a.jwt", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateJWT(tt.token, tt.secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateJWT() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
