// Command linkstage animates a linked-list chain: every insert or remove
// request becomes a choreography played by the frame loop, one at a time.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
