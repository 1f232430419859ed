// Package app wires configuration, the wallet session, and the HTTP surface
// into the agentd command tree.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gustavo/defi-agent/internal/chat"
	"github.com/gustavo/defi-agent/internal/config"
	"github.com/gustavo/defi-agent/internal/lending"
	"github.com/gustavo/defi-agent/internal/quotes"
	"github.com/gustavo/defi-agent/internal/registry"
	"github.com/gustavo/defi-agent/internal/server"
	"github.com/gustavo/defi-agent/internal/store"
	"github.com/gustavo/defi-agent/internal/version"
	"github.com/gustavo/defi-agent/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return &Runner{stdout: os.Stdout, stderr: os.Stderr}
}

func (r *Runner) Run(args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r *Runner) newRootCommand() *cobra.Command {
	var flags config.GlobalFlags
	root := &cobra.Command{
		Use:   version.Name,
		Short: "DeFi lending action agent",
	}
	config.BindFlags(root.PersistentFlags(), &flags)

	root.AddCommand(
		r.newServeCommand(&flags),
		newVersionCommand(),
	)
	return root
}

func (r *Runner) newServeCommand(flags *config.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and chat-socket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.serve(cmd.Context(), *flags)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s %s (%s)\n", version.Name, version.Version, version.Commit)
		},
	}
}

func (r *Runner) serve(ctx context.Context, flags config.GlobalFlags) error {
	settings, err := config.Load(flags)
	if err != nil {
		return err
	}
	log := newLogger(settings)

	network, ok := registry.ParseNetwork(settings.Network)
	if !ok {
		return fmt.Errorf("unknown network %q", settings.Network)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The wallet session is built exactly once and shared by everything
	// that signs or reads.
	node, err := wallet.NewNode(ctx, wallet.Config{
		RPCURL:         settings.RPCURL,
		Network:        network,
		PrivateKeyHex:  settings.WalletPrivateKey,
		WalletID:       settings.WalletID,
		WalletData:     settings.WalletData,
		FaucetURL:      settings.FaucetURL,
		SponsorURL:     settings.SponsorURL,
		ConfirmTimeout: settings.ConfirmTimeout,
		PollInterval:   settings.PollInterval,
	}, log)
	if err != nil {
		return err
	}
	defer node.Close()

	journal, err := store.Open(settings.StorePath, settings.StoreLockPath)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	orchestrator, err := lending.New(node, journal, log)
	if err != nil {
		return err
	}
	quoteService := quotes.New(node.Client(), network, settings.QuoteTimeout, log)
	lender := quotes.NewLender(node, node.Client(), journal, log)

	srv := server.New(server.Config{
		Listen:          settings.Listen,
		Address:         node.Address().Hex(),
		FaucetPerMinute: settings.FaucetPerMinute,
	}, orchestrator, quoteService, lender, journal, log)
	srv.MountChat(chat.NewHandler(orchestrator, quoteService, lender, node.Address().Hex(), log))

	log.WithFields(logrus.Fields{
		"network": network.ID,
		"address": node.Address().Hex(),
	}).Info("agent session ready")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(settings config.Settings) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if settings.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
