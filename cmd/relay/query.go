package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vnmchuo/billing-relay/internal/auth"
	"github.com/vnmchuo/billing-relay/internal/relay"
)

var querySubscription string

var queryCmd = &cobra.Command{
	Use:   "query <name>",
	Short: "Run one catalog query against Azure and print the relayed response",
	Long: `Runs a single relay pass for the named query (subscriptions, subscription-cost,
tenant-cost, daily-cost or a catalog override) using AZURE_ACCESS_TOKEN as the credential.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cfg, rl, catalog, err := setup(ctx)
		if err != nil {
			return err
		}

		query, err := catalog.Get(args[0])
		if err != nil {
			return err
		}

		token, err := readToken(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		sub := strings.TrimSpace(querySubscription)
		if sub == "" {
			sub = cfg.DefaultSubscription
		}

		res := rl.Do(ctx, relay.Request{Query: query, Token: token, SubscriptionID: sub})
		fmt.Fprintf(cmd.ErrOrStderr(), "status: %d (%s)\n", res.Status, res.Outcome)
		return printResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	queryCmd.Flags().StringVar(&querySubscription, "subscription", "", "subscription id (defaults to AZURE_SUBSCRIPTION_ID)")
}

var (
	isTerminalFn   = term.IsTerminal
	readPasswordFn = term.ReadPassword
)

// readToken takes the credential from AZURE_ACCESS_TOKEN, prompting without
// echo when it is unset and stdin is a terminal. An empty result is passed
// through so the relay reports the missing credential.
func readToken(stdin *os.File, prompt io.Writer) (auth.Token, error) {
	value := os.Getenv("AZURE_ACCESS_TOKEN")
	if value == "" && stdin != nil && isTerminalFn(int(stdin.Fd())) {
		fmt.Fprint(prompt, "Azure access token: ")
		raw, err := readPasswordFn(int(stdin.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		value = string(raw)
	}

	token, err := auth.ParseAuthorization(value)
	if errors.Is(err, auth.ErrMissingCredential) {
		return "", nil
	}
	return token, err
}

func printResult(out io.Writer, res *relay.Result) error {
	raw := res.Raw
	if raw == nil {
		encoded, err := json.Marshal(res.Body)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		raw = encoded
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}
