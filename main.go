package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanchat/internal/config"
	"lanchat/internal/identity"
	"lanchat/internal/logging"
)

var version = "dev"

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Execute builds the command tree and runs it.
func Execute() error {
	var cfgPath string

	root := &cobra.Command{
		Use:           "lanchat",
		Short:         "Encrypted one-to-one chat with peers on the local network",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "config file (default ./lanchat.yaml or ~/.lanchat/lanchat.yaml)")
	config.RegisterFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lanchat", version)
		},
	})

	return root.Execute()
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	id, created, err := identity.LoadOrCreate(cfg.KeysDir, cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	if created {
		log.Info("generated new key pair", zap.String("dir", cfg.KeysDir))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting",
		zap.String("username", cfg.Username),
		zap.Int("chat_port", cfg.Chat.Port),
		zap.Int("discovery_port", cfg.Discovery.Port),
		zap.String("version", version))

	if cfg.UI.TUI {
		return runTUI(ctx, cfg, id, log)
	}
	return runConsole(ctx, cfg, id, log)
}

func runConsole(ctx context.Context, cfg *config.Config, id identity.Provider, log *zap.Logger) error {
	node, err := NewNode(ctx, cfg, id, NewConsolePrinter(os.Stdout), log)
	if err != nil {
		return err
	}
	node.Start(ctx)
	go node.readConsole(os.Stdin)
	node.Run(ctx)
	fmt.Println()
	return nil
}

func runTUI(ctx context.Context, cfg *config.Config, id identity.Provider, log *zap.Logger) error {
	printer := newTUIPrinter()
	node, err := NewNode(ctx, cfg, id, printer, log)
	if err != nil {
		return err
	}
	node.Start(ctx)
	go node.Run(ctx)

	p := tea.NewProgram(NewUI(node, printer), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	printer.Close()
	node.Stop()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}
