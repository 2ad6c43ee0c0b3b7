package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Hobrus/dashify.git/internal/app/server/config"
	"github.com/Hobrus/dashify.git/internal/pkg/buildinfo"
	"github.com/Hobrus/dashify.git/internal/pkg/logging"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dashify-server",
		Short:         "Demo server that injects faults and streams its own log to a pub/sub channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	config.RegisterFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			buildinfo.PrintSelf(cmd.OutOrStdout())
		},
	})
	return root
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags(), os.LookupEnv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Stdout: cmd.OutOrStdout()}
	if cfg.LogToFile {
		opts.TeeFile = cfg.LogFilePath()
	}
	logger, closeLog, err := logging.New(opts)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, logger)
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logrus.Fatal(err)
	}
}
