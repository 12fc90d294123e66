// Command noteforgectl runs maintenance tasks against a Noteforge deployment
// using the same configuration as the API.
package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.Fatalf("noteforgectl: %v", err)
	}
}
