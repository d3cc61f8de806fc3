// Package main is the entry point for the typerankctl operator CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ryoh/typerank/internal/cmd"
)

func main() {
	// Pick up TYPERANK_* overrides from a local .env, if present.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
