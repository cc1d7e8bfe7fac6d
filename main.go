// Command analyzer is the entry point for the package-analysis pipeline:
// the CDC observer, the queue consumer, the one-shot analyze command,
// and the peripheral operational tasks all live behind this one binary.
package main

import "pkgsignal.dev/analyzer/cli"

func main() {
	cli.Execute()
}
