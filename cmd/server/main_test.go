package main

import (
	"testing"

	"nexora/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", AllowedOrigin: "https://shop.nexora.dev", AccessTokenTTLMinutes: 480},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*", AccessTokenTTLMinutes: 480},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "https://shop.nexora.dev", AccessTokenTTLMinutes: 60 * 24 * 30},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected weak security config to be rejected: %+v", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:            "0123456789abcdef0123456789abcdef",
		AllowedOrigin:         "https://shop.nexora.dev",
		AccessTokenTTLMinutes: 480,
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
