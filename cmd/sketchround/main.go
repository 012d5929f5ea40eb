// Command sketchround runs real-time sketch recognition rounds against a
// classification service.
package main

import (
	"os"

	"github.com/Iron-Ham/sketchround/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
