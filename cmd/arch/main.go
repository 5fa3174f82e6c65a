// Command arch runs, lints, and schema-checks ARCH execution plans: the CLI
// surface over the orchestration core in internal/.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
