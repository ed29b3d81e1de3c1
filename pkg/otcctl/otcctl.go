// Package otcctl implements the command line client of the escrow daemon.
package otcctl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/catalogfi/otc/pkg/rpcclient"
	"github.com/spf13/cobra"
)

func Run(version string) error {
	var (
		url   string
		token string
	)

	var cmd = &cobra.Command{
		Use:   "otcctl",
		Short: "Command line client of the otc escrow daemon",
		Run: func(c *cobra.Command, args []string) {
			c.HelpFunc()(c, args)
		},
		Version:           version,
		DisableAutoGenTag: true,
	}
	cmd.PersistentFlags().StringVar(&url, "url", envOr("OTC_URL", "http://127.0.0.1:8080"), "daemon url")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("OTC_TOKEN"), "token issued by the login command")

	client := func() rpcclient.Client {
		c := rpcclient.NewClient(url)
		c.SetToken(token)
		return c
	}

	cmd.AddCommand(Login(client))
	cmd.AddCommand(Create(client))
	cmd.AddCommand(Settle(client))
	cmd.AddCommand(Claim(client))
	cmd.AddCommand(Cancel(client))
	cmd.AddCommand(Get(client))
	cmd.AddCommand(List(client))
	cmd.AddCommand(Config(client))
	cmd.AddCommand(UpdateFee(client))
	return cmd.Execute()
}

func envOr(name, fallback string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return fallback
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		cobra.CheckErr(fmt.Errorf("failed to marshal response: %w", err))
	}
	fmt.Println(string(data))
}
