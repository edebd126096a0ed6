package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/btchat"
)

type rootOptions struct {
	configPath string
	sessionID  string
	store      string
	provider   string
	logLevel   string
	raw        bool

	// newProvider replaces the configured provider when set.
	newProvider providerFunc
}

// longRunning names the commands that serve many turns in one process.
var longRunning = map[string]bool{"serve": true, "chat": true}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&rootOptions{})
}

func newRootCommandWith(opts *rootOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "btchat",
		Short: "Generate and edit behavior trees by chatting with a language model",
		Long: `btchat turns mission descriptions into BehaviorTree.CPP (BTCPP_format 4) XML.

Describe a robot mission to generate a tree, ask for changes to modify it, or
just ask questions. Spreadsheet rows of mission requirements can be turned
into trees in bulk with the csv command.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./btchat.yaml or ~/.btchat/btchat.yaml)")
	flags.StringVarP(&opts.sessionID, "session", "s", btchat.DefaultSessionID, "session id")
	flags.StringVar(&opts.store, "store", "", "store backend override: auto, memory, sqlite, postgres")
	flags.StringVar(&opts.provider, "provider", "", "provider override: openai, gemini, genai, webhook")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	flags.BoolVar(&opts.raw, "raw", false, "print plain text without styling")

	cmd.AddCommand(
		newServeCommand(opts),
		newGenerateCommand(opts),
		newModifyCommand(opts),
		newChatCommand(opts),
		newCSVCommand(opts),
		newResetCommand(opts),
		newHistoryCommand(opts),
		newMigrateCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

// load reads the configuration and applies flag overrides.
func (o *rootOptions) load() (*btchat.AppConfig, error) {
	cfg, err := btchat.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.store != "" {
		cfg.Store.Backend = o.store
	}
	if o.provider != "" {
		cfg.Provider.Name = o.provider
	}
	if o.logLevel != "" {
		cfg.Observability.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// withApp wires an app for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	persistent := longRunning[cmd.Name()]
	cfg.Store.Backend = cfg.Store.BackendFor(persistent)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, o.newProvider)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if cfg.Store.Backend == "memory" && !persistent {
		a.logger.Warn("memory store forgets the session when this command exits; use --store sqlite to keep it", "command", cmd.Name())
	}
	return fn(ctx, a)
}
