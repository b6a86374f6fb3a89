package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/smeportal/onboarding-server/internal/util"
)

// Prints a bcrypt hash for seeding accounts directly into the users table.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password> [cost]\n")
		os.Exit(1)
	}

	cost := 12
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cost must be a number: %v\n", err)
			os.Exit(1)
		}
		cost = n
	}

	hash, err := util.HashPassword(os.Args[1], cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
