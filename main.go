package main

import (
	"github.com/joho/godotenv"

	"github.com/teemow/ash/cmd"
)

// version will be set by goreleaser during build
var version = "dev"

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cmd.SetVersion(version)
	cmd.Execute()
}
