// Package main prints the bcrypt hash of an admin token for auth.admin_token_hash.
// The gateway stores only the hash, so operators run this once when provisioning
// the admin credential. With no argument a random token is generated and printed
// alongside its hash.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"github.com/toolgate/toolgate/internal/auth"
)

func main() {
	token := ""
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("failed to generate token: %v", err)
		}
		token = "tga_" + base64.RawURLEncoding.EncodeToString(b)
		fmt.Printf("token: %s\n", token)
	}

	hash, err := auth.HashAdminToken(token)
	if err != nil {
		log.Fatalf("failed to hash token: %v", err)
	}
	fmt.Printf("hash:  %s\n", hash)
}
