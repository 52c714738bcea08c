// Command webccdemo is a small CLI exercising webcc's client and server
// halves end to end: "serve" stands up a demo REST-style server, and
// "get"/"post" drive requests against any webcc-speaking endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "webccdemo",
	Short: "Demo client and server for the webcc HTTP/1.1 engine",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
