// Command civic is the Nigerian legal assistant: an HTTP API that answers
// questions about Nigerian law in English, Pidgin, Yoruba, Hausa and Igbo,
// grounded on passages retrieved from the statutes, plus CLI commands to
// ingest, search and ask from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/civic-go/cmd/civic/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
