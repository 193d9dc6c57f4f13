// main executable.
package main

import (
	"os"

	"github.com/project-chip/certification-tool-cli/internal/core"
)

func main() {
	s, ok := core.New(os.Args[1:])
	if !ok {
		os.Exit(1)
	}
	os.Exit(s.Wait())
}
