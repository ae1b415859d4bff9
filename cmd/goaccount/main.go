// Command goaccount runs the operational tasks of a goAccount deployment:
// schema migrations, token sweeping and key generation.
package main

import (
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
