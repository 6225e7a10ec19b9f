// Vetomint is a command-line utility for testing the vetomint consensus.
package main

import "github.com/relab/vetomint/internal/cli"

func main() {
	cli.Execute()
}
