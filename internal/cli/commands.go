package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vitorbretz/bia/internal/service"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the image for the current git revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			st, err := orch.Build(cmd.Context())
			if err != nil {
				a.log.Error().Err(err).Msg("build failed")
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %s:%s\n", a.cfg.Repository, st.Version)
			return nil
		},
	}
}

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the previously built image to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			st, err := orch.Push(cmd.Context())
			if err != nil {
				a.log.Error().Err(err).Msg("push failed")
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s\n", st.ImageRef())
			return nil
		},
	}
}

func newDeployCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Build, push, and deploy the current git revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := orch.FullDeploy(cmd.Context())
			if err != nil {
				a.log.Error().Err(err).Msg("deploy failed")
				return err
			}
			return reportOutcome(cmd, a, outcome)
		},
	}
}

func newRollbackCmd(a *app) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Redeploy a previously published version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := orch.Rollback(cmd.Context(), tag)
			if err != nil {
				a.log.Error().Err(err).Msg("rollback failed")
				return err
			}
			return reportOutcome(cmd, a, outcome)
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "version to roll back to")
	cmd.MarkFlagRequired("tag")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var limit int32
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered task definition revisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			revisions, err := orch.List(cmd.Context(), limit)
			if err != nil {
				a.log.Error().Err(err).Msg("list failed")
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REVISION\tIMAGE\tREGISTERED\t")
			for _, rev := range revisions {
				marker := ""
				if rev.Active {
					marker = "(active)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rev.Revision, rev.Image, rev.RegisteredAt, marker)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 10, "maximum revisions to list")
	return cmd
}

func reportOutcome(cmd *cobra.Command, a *app, outcome service.Outcome) error {
	if outcome != service.Stable {
		a.log.Warn().Msg("service update submitted, but stability was not confirmed before the timeout; inspect the service before retrying")
		return ErrUnconfirmed
	}
	fmt.Fprintln(cmd.OutOrStdout(), "service is stable")
	return nil
}
