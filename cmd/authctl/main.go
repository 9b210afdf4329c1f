// Command authctl is the operator CLI for mona: schema migrations, catalog
// seeding, key rotation and bootstrap grants.
package main

import (
	"fmt"
	"os"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
