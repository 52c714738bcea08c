package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rawcore/webcc/pkg/client"
	"github.com/rawcore/webcc/pkg/session"
)

var postBodyFile string

var postCmd = &cobra.Command{
	Use:   "post <url>",
	Short: "Send a POST request with a JSON body read from --data or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if postBodyFile != "" {
			data, err = os.ReadFile(postBodyFile)
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return err
		}

		sess := session.New(client.DefaultOptions())
		defer sess.Close()

		builder := session.NewRequestBuilder("POST", args[0]).JSON(data)
		result, err := sess.Post(context.Background(), args[0], nil, nil, builder)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func init() {
	postCmd.Flags().StringVar(&postBodyFile, "data", "", "path to a file holding the JSON request body (default: read stdin)")
	rootCmd.AddCommand(postCmd)
}
