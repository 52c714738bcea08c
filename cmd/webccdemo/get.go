package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rawcore/webcc/pkg/client"
	"github.com/rawcore/webcc/pkg/session"
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Send a GET request and print the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := session.New(client.DefaultOptions())
		defer sess.Close()

		result, err := sess.Get(context.Background(), args[0], nil, nil)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func printResult(result *client.Result) error {
	resp := result.Response
	fmt.Fprintf(os.Stdout, "%s\n", resp.StatusLine())
	resp.Header.Each(func(k, v string) { fmt.Fprintf(os.Stdout, "%s: %s\n", k, v) })
	fmt.Fprintln(os.Stdout)
	if resp.Body != nil {
		data, err := resp.Body.Bytes()
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		fmt.Fprintln(os.Stdout)
	}
	return nil
}
