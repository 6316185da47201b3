package main

import (
	"github.com/parleyhq/parley/internal/cli"
	"github.com/parleyhq/parley/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cli.Execute()
}
