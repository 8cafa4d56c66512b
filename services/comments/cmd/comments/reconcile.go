package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/corner/services/comments/internal/service"
)

func newReconcileCmd() *cobra.Command {
	var (
		commentID string
		factID    string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute like counts from the stored likes",
		Long:  "Recomputes the like count of one comment (--comment) or of every comment on a fact (--fact) and prints the results as JSON.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (commentID == "") == (factID == "") {
				return errors.New("exactly one of --comment or --fact is required")
			}

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()

			svc := service.New(service.Deps{
				Comments: b.Comments,
				Likes:    b.Likes,
				Facts:    b.Facts,
				Log:      log,
			}, service.Options{MaxTextLength: cfg.Comments.MaxTextLength})

			var out any
			if commentID != "" {
				out, err = svc.Reconcile(cmd.Context(), commentID)
			} else {
				out, err = svc.ReconcileFact(cmd.Context(), factID)
			}
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&commentID, "comment", "", "Comment ID to reconcile")
	cmd.Flags().StringVar(&factID, "fact", "", "Fact ID whose comments are reconciled")
	return cmd
}
