// Command docrag ingests documents into a vector store and answers questions
// grounded in them. It provides a CLI interface (via Cobra) and an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docrag-go/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
