// Command devtoken prints an API bearer token for local development.
//
//	JWT_SECRET=... devtoken -user 100 -role SELLER
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iliyamo/live-commerce/internal/account"
)

func main() {
	user := flag.Uint64("user", 0, "account id")
	role := flag.String("role", account.RoleViewer, "SELLER or VIEWER")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *role != account.RoleSeller && *role != account.RoleViewer {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	tok, err := account.NewAccessToken(os.Getenv("JWT_SECRET"), *user, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
