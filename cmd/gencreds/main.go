// Package main provides an operator tool for the gateway's encrypted
// credentials file. It generates age key pairs and encrypts the
// upstream API key and token secret to a recipient, producing the file
// CREDENTIALS_FILE points at.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/narvanalabs/agent-gateway/internal/secretfile"
)

func main() {
	generate := flag.Bool("generate", false, "Generate a new age key pair and exit")
	recipient := flag.String("recipient", "", "Age public key (age1...) to encrypt to")
	apiKey := flag.String("api-key", "", "Upstream API key (or set AGENT_API_KEY env var)")
	tokenSecret := flag.String("token-secret", "", "Token secret (or set GATEWAY_TOKEN_SECRET env var)")
	out := flag.String("out", "credentials.age", "Output file")
	flag.Parse()

	if *generate {
		publicKey, privateKey, err := secretfile.GenerateKeyPair()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating key pair: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("# recipient (encrypt with -recipient):\n%s\n", publicKey)
		fmt.Printf("# identity (set CREDENTIALS_AGE_IDENTITY on the gateway):\n%s\n", privateKey)
		return
	}

	if *recipient == "" {
		fmt.Fprintln(os.Stderr, "Error: -recipient required (generate one with -generate)")
		os.Exit(1)
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("AGENT_API_KEY")
	}
	secret := *tokenSecret
	if secret == "" {
		secret = os.Getenv("GATEWAY_TOKEN_SECRET")
	}
	if key == "" && secret == "" {
		fmt.Fprintln(os.Stderr, "Error: nothing to encrypt. Provide -api-key and/or -token-secret")
		os.Exit(1)
	}

	payload, err := secretfile.Encrypt(*recipient, &secretfile.Credentials{
		AgentAPIKey:        key,
		GatewayTokenSecret: secret,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encrypting credentials: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, payload, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *out)
}
