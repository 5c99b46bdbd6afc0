// The main package for the madara-crawler executable.
package main

import (
	"github.com/JakeFAU/madara-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
