// Package main provides a small tool to mint and check gateway tokens.
// Minting needs the same token secret the gateway runs with; a token
// minted here authenticates against any gateway sealing with that
// secret.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/narvanalabs/agent-gateway/internal/auth"
)

func main() {
	key := flag.String("key", "", "API key to seal into a token")
	secret := flag.String("secret", "", "Token secret (or set GATEWAY_TOKEN_SECRET env var)")
	check := flag.String("check", "", "Decode a token instead of minting; prints the sealed key")
	flag.Parse()

	tokenSecret := *secret
	if tokenSecret == "" {
		tokenSecret = os.Getenv("GATEWAY_TOKEN_SECRET")
	}
	if tokenSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: token secret required. Use -secret flag or set GATEWAY_TOKEN_SECRET env var")
		fmt.Fprintln(os.Stderr, "Example: go run ./cmd/genkeytoken -secret 'same-secret-the-gateway-uses' -key key_abc123")
		os.Exit(1)
	}

	material, err := auth.NewKeyProvider(tokenSecret).Secret()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving sealing key: %v\n", err)
		os.Exit(1)
	}
	codec, err := auth.NewTokenCodec(material)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing codec: %v\n", err)
		os.Exit(1)
	}

	if *check != "" {
		sealed, ok := codec.Decode(*check)
		if !ok {
			fmt.Fprintln(os.Stderr, "Error: token does not decode with this secret")
			os.Exit(1)
		}
		fmt.Println(sealed)
		return
	}

	if *key == "" {
		fmt.Fprintln(os.Stderr, "Error: -key is required when minting")
		os.Exit(1)
	}

	token, err := codec.Mint(*key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error minting token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
