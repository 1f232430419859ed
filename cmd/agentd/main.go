package main

import (
	"os"

	"github.com/gustavo/defi-agent/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
