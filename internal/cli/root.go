// Package cli defines the bia command tree.
package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vitorbretz/bia/internal/awsx"
	"github.com/vitorbretz/bia/internal/config"
	"github.com/vitorbretz/bia/internal/deploy"
	"github.com/vitorbretz/bia/internal/image"
	"github.com/vitorbretz/bia/internal/service"
	"github.com/vitorbretz/bia/internal/taskdef"
)

// ErrUnconfirmed is returned when a deployment was submitted but did not
// confirm stable within the wait budget. main maps it to exit code 2 so
// automation can tell it apart from success and from failure.
var ErrUnconfirmed = errors.New("deployment submitted but not confirmed stable")

// app carries the resolved configuration and logger shared by commands.
type app struct {
	cfg config.Config
	dir string
	log zerolog.Logger
}

// NewRootCmd builds the bia command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{}

	var (
		flagRegion  string
		flagCluster string
		flagService string
		flagFamily  string
		flagRepo    string
		flagTimeout time.Duration
		flagLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "bia",
		Short:         "bia deploys a containerized application to ECS",
		Long:          "bia builds a versioned container image, publishes it to ECR,\nregisters a task definition revision for it, and updates the ECS\nservice, waiting for the rollout to stabilize.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("region") {
				cfg.Region = flagRegion
			}
			if flags.Changed("cluster") {
				cfg.Cluster = flagCluster
			}
			if flags.Changed("service") {
				cfg.Service = flagService
			}
			if flags.Changed("family") {
				cfg.Family = flagFamily
			}
			if flags.Changed("repository") {
				cfg.Repository = flagRepo
			}
			if flags.Changed("timeout") {
				cfg.WaitTimeout = flagTimeout
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = flagLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			a.cfg = cfg
			a.dir = dir
			a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()
			return nil
		},
	}

	defaults := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRegion, "region", defaults.Region, "AWS region")
	pf.StringVar(&flagCluster, "cluster", defaults.Cluster, "ECS cluster name")
	pf.StringVar(&flagService, "service", defaults.Service, "ECS service name")
	pf.StringVar(&flagFamily, "family", defaults.Family, "task definition family")
	pf.StringVar(&flagRepo, "repository", defaults.Repository, "ECR repository name")
	pf.DurationVar(&flagTimeout, "timeout", defaults.WaitTimeout, "how long to wait for the service to stabilize")
	pf.StringVar(&flagLevel, "log-level", defaults.LogLevel, "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(
		newBuildCmd(a),
		newPushCmd(a),
		newDeployCmd(a),
		newRollbackCmd(a),
		newListCmd(a),
	)
	return rootCmd
}

// orchestrator wires the pipeline components for one invocation.
func (a *app) orchestrator(ctx context.Context) (*deploy.Orchestrator, error) {
	clients, err := awsx.NewClients(ctx, a.cfg.Region, a.cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	docker, err := image.NewDockerClient(a.cfg)
	if err != nil {
		return nil, err
	}
	publisher := image.NewPublisher(a.cfg, clients, docker, os.Stderr, a.log)
	taskdefs := taskdef.NewManager(a.cfg, clients, a.log)
	services := service.NewUpdater(a.cfg, clients, a.log)
	return deploy.NewOrchestrator(a.cfg, a.dir, publisher, taskdefs, services, a.log), nil
}
