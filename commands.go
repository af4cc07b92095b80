package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nostr-feed/internal/auth"
	"nostr-feed/internal/config"
	"nostr-feed/internal/feed"
	"nostr-feed/internal/nostr"
)

// appOpener builds the App for a command
type appOpener func(ctx context.Context, settings *config.Settings, in io.Reader, out io.Writer) (*App, error)

// cli carries what the commands share: configuration and how to open the app
type cli struct {
	v          *viper.Viper
	configFile string
	settings   *config.Settings
	openApp    appOpener
}

// Execute runs the command line
func Execute() error {
	return newRootCmd(newApp).Execute()
}

func newRootCmd(open appOpener) *cobra.Command {
	c := &cli{v: config.New(), openApp: open}

	rootCmd := &cobra.Command{
		Use:           "nostr-feed",
		Short:         "Read notes from the people you follow on Nostr",
		Long:          "nostr-feed resolves your follow list from Nostr relays, loads their profiles and recent notes, and keeps the timeline live in a terminal UI or over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(c.v, c.configFile)
			if err != nil {
				return err
			}
			c.settings = settings
			InitLogger(settings.LogLevel, cmd.ErrOrStderr(), false)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default ./config.* or ~/.nostr-feed/config.*)")
	flags.String("storage", "", "storage backend: badger, memory or redis")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	c.v.BindPFlag(config.KeyStorageBackend, flags.Lookup("storage"))
	c.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newServeCmd(c),
		newTUICmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newFollowsCmd(c),
		newFeedCmd(c),
	)

	return rootCmd
}

// withApp opens the app for the duration of fn and writes pending state on the way out
func (c *cli) withApp(cmd *cobra.Command, fn func(app *App) error) error {
	app, err := c.openApp(cmd.Context(), c.settings, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func newLoginCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "login [identifier]",
		Short: "Log in with an npub, nsec or hex key and resolve your follows",
		Long:  "Log in with an npub, nsec or hex key. Without an argument the configured auth.identifier is used, or you are prompted for one. Secret keys are only used to derive the public key and are never stored.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				var (
					ok  bool
					err error
				)
				if len(args) == 1 {
					ok, err = app.auth.LoginWith(cmd.Context(), auth.Static{Identifier: args[0]})
				} else {
					ok, err = app.auth.Login(cmd.Context())
				}
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("login cancelled or identifier invalid")
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (follows: %d)\n",
					nostr.EncodeNpub(app.state.Pubkey.Get()), len(app.state.Follows.Get()))
				return nil
			})
		},
	}
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				app.auth.Logout()
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func newFollowsCmd(c *cli) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "follows",
		Short: "List the follows of the logged in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				pubkey := app.state.Pubkey.Get()
				if pubkey == "" {
					return feed.ErrLoggedOut
				}

				if refresh {
					list := app.loader.LoadFollows(cmd.Context(), pubkey)
					if list.Status != feed.FollowsUnknown {
						app.state.Follows.Set(list.Pubkeys)
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", list.Status)
				}

				out := cmd.OutOrStdout()
				for _, follow := range app.state.Follows.Get() {
					_, _ = fmt.Fprintln(out, nostr.EncodeNpub(follow))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "resolve the follow list from relays first")
	return cmd
}

func newFeedCmd(c *cli) *cobra.Command {
	var pages int

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Load the timeline once and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				if !app.state.LoggedIn() {
					return feed.ErrLoggedOut
				}
				if err := app.loader.LoadData(cmd.Context()); err != nil {
					return err
				}
				for i := 0; i < pages; i++ {
					if err := app.loader.LoadMore(cmd.Context()); err != nil {
						return err
					}
				}

				people := app.loader.People()
				notes := []noteJSON{}
				for _, evt := range timelineNotes(app) {
					notes = append(notes, noteJSON{
						ID:        evt.ID,
						Pubkey:    evt.PubKey,
						Author:    authorName(people, evt.PubKey),
						CreatedAt: evt.CreatedAt,
						Content:   evt.Content,
					})
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(notes)
			})
		},
	}

	cmd.Flags().IntVar(&pages, "more", 0, "load this many extra pages before printing")
	return cmd
}
