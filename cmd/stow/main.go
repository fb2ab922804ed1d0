// Command stow is the command line for the stowaway local-first record store.
package main

import (
	"os"

	"github.com/roach88/stowaway/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:], os.Stdout, os.Stderr))
}
