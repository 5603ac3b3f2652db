package main

import (
	"os"

	"github.com/wesleyorama2/volley/internal/cli"
)

// Main runs the command line and returns the exit status.
func Main() int {
	return cli.Execute(os.Args[1:], os.Stdout, os.Stderr)
}

func main() {
	os.Exit(Main())
}
