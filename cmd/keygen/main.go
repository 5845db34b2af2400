package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/tjfontaine/interactions-gateway/internal/signature"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run cmd/keygen/main.go generate")
	fmt.Println("      Generates an Ed25519 key pair for local testing")
	fmt.Println("  go run cmd/keygen/main.go sign <private-key-hex> [timestamp] < body.json")
	fmt.Println("      Prints the signature headers for a request body read from stdin")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "generate":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Public Key:  %s\n", hex.EncodeToString(pub))
		fmt.Printf("Private Key: %s\n", hex.EncodeToString(priv))
		fmt.Println("\nAdd this to your config.yaml:")
		fmt.Printf("  discord:\n")
		fmt.Printf("    public_key: \"%s\"\n", hex.EncodeToString(pub))

	case "sign":
		if len(os.Args) < 3 {
			usage()
		}
		raw, err := hex.DecodeString(os.Args[2])
		if err != nil || len(raw) != ed25519.PrivateKeySize {
			fmt.Fprintf(os.Stderr, "private key must be %d hex-encoded bytes\n", ed25519.PrivateKeySize)
			os.Exit(1)
		}
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		if len(os.Args) > 3 {
			ts = os.Args[3]
		}
		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read body: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s\n", signature.HeaderSignature, signature.Sign(ed25519.PrivateKey(raw), body, ts))
		fmt.Printf("%s: %s\n", signature.HeaderTimestamp, ts)

	default:
		usage()
	}
}
