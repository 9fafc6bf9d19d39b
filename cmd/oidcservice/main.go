// Command oidcservice runs the steps of a relying party flow from the command
// line. Flow state is kept in a store, so a flow begun by one invocation can
// be finished by another.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/pardot/oidcservice"
	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/storage/factory"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var ( // flags
	configPath string
	storeDSN   string
	logLevel   string
	verify     bool
	scopes     []string
)

var rootCmd = &cobra.Command{
	Use:           "oidcservice",
	Short:         "Drive OAuth2 and OpenID Connect flows against a provider",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "oidcservice.yaml", "Client configuration file")
	rootCmd.PersistentFlags().StringVar(&storeDSN, "store", "bolt:oidcservice.db", "Flow state store, e.g. memory:, bolt:/path, sqlite:/path, postgres://..., redis://..., s3://bucket")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.PersistentFlags().BoolVar(&verify, "verify-id-token", true, "Verify ID tokens in token responses")

	authURLCmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request, instead of the configured ones")

	rootCmd.AddCommand(webfingerCmd, discoverCmd, authURLCmd, exchangeCmd, refreshCmd, userinfoCmd, endCmd)
}

var webfingerCmd = &cobra.Command{
	Use:   "webfinger <resource>",
	Short: "Find the issuer for an account or URL",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(false, func(ctx context.Context, c *oidcservice.Client, out io.Writer, args []string) error {
		iss, err := c.WebFinger(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "webfinger lookup failed")
		}
		fmt.Fprintln(out, iss)
		return nil
	}),
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Print the issuer's configuration document",
	Args:  cobra.NoArgs,
	RunE: withClient(false, func(ctx context.Context, c *oidcservice.Client, out io.Writer, _ []string) error {
		md, err := c.Discover(ctx)
		if err != nil {
			return errors.Wrap(err, "discovery failed")
		}
		return printJSON(out, md)
	}),
}

var authURLCmd = &cobra.Command{
	Use:   "auth-url",
	Short: "Begin a flow, and print its key and the URL to send the user to",
	Args:  cobra.NoArgs,
	RunE: withClient(true, func(ctx context.Context, c *oidcservice.Client, out io.Writer, _ []string) error {
		args := message.Message{}
		if len(scopes) > 0 {
			args["scope"] = strings.Join(scopes, " ")
		}
		key, u, err := c.Begin(ctx, args)
		if err != nil {
			return errors.Wrap(err, "beginning flow")
		}
		fmt.Fprintf(out, "key: %s\nurl: %s\n", key, u)
		return nil
	}),
}

var exchangeCmd = &cobra.Command{
	Use:   "exchange <redirect url or query>",
	Short: "Finish a flow from the provider's redirect, and print the tokens",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(true, func(ctx context.Context, c *oidcservice.Client, out io.Writer, args []string) error {
		q := args[0]
		if u, err := url.Parse(q); err == nil && u.RawQuery != "" {
			q = u.RawQuery
		}
		key, tok, err := c.Finish(ctx, q)
		if err != nil {
			return errors.Wrap(err, "finishing flow")
		}
		return printJSON(out, map[string]interface{}{"key": key, "token": tok})
	}),
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <key>",
	Short: "Refresh the tokens of a flow",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(true, func(ctx context.Context, c *oidcservice.Client, out io.Writer, args []string) error {
		tok, err := c.Refresh(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "refreshing tokens")
		}
		return printJSON(out, tok)
	}),
}

var userinfoCmd = &cobra.Command{
	Use:   "userinfo <key>",
	Short: "Fetch user info with the tokens of a flow",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(true, func(ctx context.Context, c *oidcservice.Client, out io.Writer, args []string) error {
		ui, err := c.UserInfo(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "fetching user info")
		}
		return printJSON(out, ui)
	}),
}

var endCmd = &cobra.Command{
	Use:   "end <key>",
	Short: "Forget a flow",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(false, func(ctx context.Context, c *oidcservice.Client, out io.Writer, args []string) error {
		return c.EndFlow(ctx, args[0])
	}),
}

// withClient sets up a client from the flags for fn, which writes its result
// to the command's output. With discover set the issuer's configuration is
// fetched first, as endpoints aren't kept between invocations.
func withClient(discover bool, fn func(context.Context, *oidcservice.Client, io.Writer, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		logger := logrus.New()
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		logger.SetLevel(lvl)

		cfg, err := oidcservice.LoadConfig(configPath)
		if err != nil {
			return err
		}

		store, closeStore, err := factory.Open(ctx, storeDSN)
		if err != nil {
			return errors.Wrapf(err, "opening store %s", storeDSN)
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.WithError(err).Warn("closing store")
			}
		}()

		opts := []oidcservice.ClientOpt{oidcservice.WithLogger(logger)}
		if verify {
			opts = append(opts, oidcservice.WithIDTokenVerification())
		}
		c, err := oidcservice.New(cfg, store, opts...)
		if err != nil {
			return errors.Wrap(err, "creating client")
		}

		if discover {
			if _, err := c.Discover(ctx); err != nil {
				return errors.Wrap(err, "discovery failed")
			}
		}
		return fn(ctx, c, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
