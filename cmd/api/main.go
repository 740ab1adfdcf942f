package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/wealth-ledger/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wealth-ledger: %v\n", err)
		os.Exit(1)
	}
}
