// Command cortexviseme trains and runs the spectral viseme classifier.
package main

import "github.com/normanking/cortexviseme/internal/cli"

func main() {
	cli.Execute()
}
