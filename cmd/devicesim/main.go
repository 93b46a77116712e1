package main

import (
	"os"

	"github.com/mirrorlab/devicesim/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
