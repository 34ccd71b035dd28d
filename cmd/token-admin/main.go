// Command token-admin issues bearer tokens for the administrative API
// (config reload). The secret must match the engine's JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"signal-engine/internal/api"
)

func main() {
	operator := flag.String("operator", "", "operator name embedded in the token")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	lifetime := flag.Duration("lifetime", 12*time.Hour, "token validity")
	flag.Parse()

	if *operator == "" {
		fmt.Fprintln(os.Stderr, "usage: token-admin -operator <name> [-secret <secret>] [-lifetime 12h]")
		os.Exit(2)
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "error: no signing secret (set -secret or JWT_SECRET)")
		os.Exit(2)
	}

	token, err := api.NewTokenManager(*secret, *lifetime).Issue(*operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
