// The main package for the frontierd executable.
package main

import (
	"github.com/JakeFAU/adaptive-frontier/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
