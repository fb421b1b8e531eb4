// Command gen_token mints a signed user session token for local API testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := flag.String("secret", os.Getenv("APP_SIGNING_SECRET"), "signing secret (defaults to APP_SIGNING_SECRET)")
	userID := flag.Int("user", 1, "user id claim")
	email := flag.String("email", "tester@example.com", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a signing secret is required (-secret or APP_SIGNING_SECRET)")
		os.Exit(1)
	}

	claims := jwt.MapClaims{
		"user_id": *userID,
		"email":   *email,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(*ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(*secret))
	if err != nil {
		panic(err)
	}
	fmt.Println(signedToken)
}
