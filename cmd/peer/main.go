package main

import (
	"os"

	"github.com/cwrk-planet/signal-service/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
