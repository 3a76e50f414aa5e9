// Package main mints a signed token for local testing against the booking API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fairway-meetups/backend/config"
	"github.com/fairway-meetups/backend/internal/auth"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token (required)")
	name := flag.String("name", "", "display name claim")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> [-name <display name>]")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(*userID, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
