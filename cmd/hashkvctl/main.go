// Command hashkvctl opens a hashkv data directory and runs put/get/delete/
// stats operations against it. Its serve command (serve.go) only keeps the
// engine open with the cleaner running in the background; it accepts no
// operations while it runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
