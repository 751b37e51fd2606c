// Command flowctl reads, writes and watches flow documents
package main

import (
	"os"

	"flowbuilder/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
