// Mints HS256 development tokens compatible with the gateway's token auth.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	var secret, sub, role, plan string
	var ttl time.Duration
	flag.StringVar(&secret, "secret", "", "base64-encoded HS256 secret (matches token_secret)")
	flag.StringVar(&sub, "sub", "user_123", "subject claim")
	flag.StringVar(&role, "role", "ROLE_USER", "role claim")
	flag.StringVar(&plan, "plan", "FREE", "plan claim")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "secret is not valid base64:", err)
		os.Exit(1)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"plan": plan,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "signing failed:", err)
		os.Exit(1)
	}
	fmt.Println(s)
}
