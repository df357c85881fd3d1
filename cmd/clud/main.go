// clud is the CLI for the clud background daemon.
package main

import (
	"os"

	"github.com/clud-dev/clud/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
