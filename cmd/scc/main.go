package main

import (
	"os"

	"github.com/ccimen/scc/cmd/scc/cli"
	"github.com/ccimen/scc/internal/scerr"
)

func main() {
	os.Exit(scerr.ExitCodeFor(cli.Execute()))
}
