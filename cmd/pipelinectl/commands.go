package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/infra/api"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail outputs stuck in PROCESSING now, without waiting for the monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.ensureContainer(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := c.Reclaimer.ReclaimStale(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, rep)
			}
			out := cmd.OutOrStdout()
			if len(rep.Reclaimed) == 0 {
				fmt.Fprintln(out, "No stuck outputs")
				return nil
			}
			rows := make([][]string, 0, len(rep.Reclaimed))
			for _, r := range rep.Reclaimed {
				rows = append(rows, []string{string(r.Kind), r.OutputID, r.SubmissionID, r.Reason})
			}
			fmt.Fprintln(out, renderTable([]string{"Kind", "Output", "Submission", "Reason"}, rows, nil))
			fmt.Fprintf(out, "Reclaimed %d output(s) across %d submission(s); %d error(s)\n", len(rep.Reclaimed), len(rep.Submissions), rep.Errors)
			return nil
		},
	}
}

func newRecomputeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <submission-id>...",
		Short: "Recompute the derived status of submissions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.ensureContainer(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(args))
			result := map[string]string{}
			for _, id := range args {
				st, err := c.Aggregator.Recompute(cmd.Context(), strings.TrimSpace(id))
				if err != nil {
					return fmt.Errorf("recompute %s: %w", id, err)
				}
				rows = append(rows, []string{id, string(st)})
				result[id] = string(st)
			}
			if ctx.jsonOut {
				return writeJSON(cmd, result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Submission", "Status"}, rows, nil))
			return nil
		},
	}
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect or remove queued jobs",
	}
	jobCmd.AddCommand(&cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's state, attempts and failure reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.ensureContainer(cmd.Context())
			if err != nil {
				return err
			}
			st, err := c.Queue.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			if ctx.jsonOut {
				return writeJSON(cmd, st)
			}
			rows := [][]string{
				{"ID", st.ID},
				{"Type", string(st.Type)},
				{"State", string(st.State)},
				{"Attempts", strconv.Itoa(st.AttemptsMade)},
				{"Progress", strconv.Itoa(st.Progress) + "%"},
			}
			if st.FailedReason != "" {
				rows = append(rows, []string{"Failure", st.FailedReason})
			}
			if len(st.Result) > 0 {
				rows = append(rows, []string{"Result", string(st.Result)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	})
	jobCmd.AddCommand(&cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Delete jobs from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.ensureContainer(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range args {
				if err := c.Queue.Remove(cmd.Context(), id); err != nil {
					fmt.Fprintf(out, "Job %s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "Job %s removed\n", id)
			}
			return nil
		},
	})
	return jobCmd
}

func newOutputsCommand(ctx *commandContext) *cobra.Command {
	outputsCmd := &cobra.Command{
		Use:   "outputs",
		Short: "Inspect outputs",
	}
	var (
		kinds     []string
		olderThan time.Duration
		limit     int
	)
	staleCmd := &cobra.Command{
		Use:   "stale",
		Short: "List outputs in PROCESSING untouched for longer than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.ensureContainer(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-olderThan)
			var all []*model.Output
			for _, k := range selected {
				outs, err := c.Outputs.ListStale(cmd.Context(), repository.NoTX, k, cutoff, limit)
				if err != nil {
					return fmt.Errorf("list stale %s: %w", k, err)
				}
				all = append(all, outs...)
			}
			if ctx.jsonOut {
				return writeJSON(cmd, all)
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stale outputs")
				return nil
			}
			rows := make([][]string, 0, len(all))
			for _, o := range all {
				rows = append(rows, []string{
					string(o.Kind), o.ID, o.SubmissionID, string(o.Stage),
					correlationLabel(o), time.Since(o.UpdatedAt).Truncate(time.Second).String(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Kind", "Output", "Submission", "Stage", "Correlation", "Idle"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	staleCmd.Flags().StringSliceVar(&kinds, "kind", nil, "Kinds to list (default all)")
	staleCmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "Idle time before an output counts as stale")
	staleCmd.Flags().IntVar(&limit, "limit", 200, "Maximum rows per kind")
	outputsCmd.AddCommand(staleCmd)
	return outputsCmd
}

func newSubmissionCommand(ctx *commandContext) *cobra.Command {
	subCmd := &cobra.Command{
		Use:   "submission",
		Short: "Inspect submissions",
	}
	subCmd.AddCommand(&cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show a submission and the status of each output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.ensureContainer(cmd.Context())
			if err != nil {
				return err
			}
			view, err := c.Pipeline.GetSubmission(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("submission %s: %w", args[0], err)
			}
			if ctx.jsonOut {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submission %s (%s) status %s\n", view.Submission.ID, view.Submission.Language, view.Submission.Status)
			rows := make([][]string, 0, len(view.Outputs))
			for _, o := range view.Outputs {
				rows = append(rows, []string{string(o.Kind), o.ID, string(o.Status), string(o.Stage), o.ErrorText()})
			}
			fmt.Fprintln(out, renderTable([]string{"Kind", "Output", "Status", "Stage", "Error"}, rows, nil))
			return nil
		},
	})
	return subCmd
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		org     string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Mint an API bearer token",
		Annotations: map[string]string{"skipContainer": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tm, err := api.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			tok, err := tm.Mint(subject, org, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cms", "Token subject")
	cmd.Flags().StringVar(&org, "org", "", "Organization the token is scoped to")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func parseKinds(raw []string) ([]model.MediaKind, error) {
	if len(raw) == 0 {
		return model.AllKinds, nil
	}
	out := make([]model.MediaKind, 0, len(raw))
	for _, r := range raw {
		k, ok := model.ParseMediaKind(strings.TrimSpace(r))
		if !ok {
			return nil, fmt.Errorf("unknown kind %q", r)
		}
		out = append(out, k)
	}
	return out, nil
}

func correlationLabel(o *model.Output) string {
	switch {
	case o.CaptionJobID != nil:
		return "caption:" + *o.CaptionJobID
	case o.RenderJobID != nil:
		return "render:" + *o.RenderJobID
	}
	return "-"
}
