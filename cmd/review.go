package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/postpilot/internal/calendar"
	"github.com/sells-group/postpilot/internal/model"
)

var (
	reviewJSON        bool
	reviewNote        string
	reviewReason      string
	reviewContent     string
	reviewContentFile string
	reviewApprove     bool
	reviewMinScore    float64
	reviewPostedAt    string
	reviewSlotCount   int
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review, edit and schedule generated posts",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts waiting for review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			posts, err := env.Lifecycle.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if reviewJSON {
				return printJSON(cmd.OutOrStdout(), posts)
			}
			printPosts(cmd.OutOrStdout(), posts)
			return nil
		})
	},
}

var reviewScheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "List approved posts waiting for publication",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			posts, err := env.Lifecycle.Scheduled(cmd.Context())
			if err != nil {
				return err
			}
			if reviewJSON {
				return printJSON(cmd.OutOrStdout(), posts)
			}
			printPosts(cmd.OutOrStdout(), posts)
			return nil
		})
	},
}

var reviewSlotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Preview the next open publication slots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			slots, err := env.Lifecycle.OpenSlots(cmd.Context(), reviewSlotCount)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), slots)
			return nil
		})
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <post-id>",
	Short: "Approve a post and assign its slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			p, err := env.Lifecycle.Approve(cmd.Context(), args[0], reviewNote)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit <post-id>",
	Short: "Replace post content and rescore it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := editContent(reviewContent, reviewContentFile)
		if err != nil {
			return err
		}
		return withEnv(cmd, func(env *appEnv) error {
			p, err := env.Lifecycle.Edit(cmd.Context(), args[0], content, reviewApprove)
			if p != nil {
				if perr := printJSON(cmd.OutOrStdout(), p); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <post-id>",
	Short: "Reject a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			p, err := env.Lifecycle.Reject(cmd.Context(), args[0], reviewReason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

var reviewRegenerateCmd = &cobra.Command{
	Use:   "regenerate <post-id>",
	Short: "Flag a post for regeneration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			p, err := env.Lifecycle.MarkForRegeneration(cmd.Context(), args[0], reviewReason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

var reviewAutoApproveCmd = &cobra.Command{
	Use:   "auto-approve",
	Short: "Approve every draft at or above a quality score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			n, err := env.Lifecycle.AutoApprove(cmd.Context(), reviewMinScore)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Auto-approved %d posts (min score %.1f)\n", n, reviewMinScore)
			return nil
		})
	},
}

var reviewPostedCmd = &cobra.Command{
	Use:   "posted <post-id>",
	Short: "Record that a post was published",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if reviewPostedAt != "" {
			t, err := time.Parse(time.RFC3339, reviewPostedAt)
			if err != nil {
				return eris.Wrap(err, "parse --at")
			}
			at = t
		}
		return withEnv(cmd, func(env *appEnv) error {
			p, err := env.Lifecycle.MarkPosted(cmd.Context(), args[0], at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

func init() {
	reviewListCmd.Flags().BoolVar(&reviewJSON, "json", false, "print posts as JSON")
	reviewScheduledCmd.Flags().BoolVar(&reviewJSON, "json", false, "print posts as JSON")
	reviewSlotsCmd.Flags().IntVar(&reviewSlotCount, "count", 5, "number of slots to show")
	reviewApproveCmd.Flags().StringVar(&reviewNote, "note", "", "review note")
	reviewEditCmd.Flags().StringVar(&reviewContent, "content", "", "replacement content")
	reviewEditCmd.Flags().StringVar(&reviewContentFile, "content-file", "", "read replacement content from file")
	reviewEditCmd.Flags().BoolVar(&reviewApprove, "approve", false, "approve after editing")
	reviewRejectCmd.Flags().StringVar(&reviewReason, "reason", "", "rejection reason")
	reviewRegenerateCmd.Flags().StringVar(&reviewReason, "reason", "", "why the post needs regeneration")
	reviewAutoApproveCmd.Flags().Float64Var(&reviewMinScore, "min-score", 8.0, "minimum quality score")
	reviewPostedCmd.Flags().StringVar(&reviewPostedAt, "at", "", "publication time, RFC3339 (default now)")

	reviewCmd.AddCommand(
		reviewListCmd,
		reviewScheduledCmd,
		reviewSlotsCmd,
		reviewApproveCmd,
		reviewEditCmd,
		reviewRejectCmd,
		reviewRegenerateCmd,
		reviewAutoApproveCmd,
		reviewPostedCmd,
	)
	rootCmd.AddCommand(reviewCmd)
}

// withEnv runs fn against a CLI environment and closes it afterwards.
func withEnv(cmd *cobra.Command, fn func(env *appEnv) error) error {
	env, err := initEnv(cmd.Context(), "cli")
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(env)
}

func editContent(content, file string) (string, error) {
	switch {
	case content != "" && file != "":
		return "", eris.New("use either --content or --content-file")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrap(err, "read content file")
		}
		content = string(data)
	}
	if strings.TrimSpace(content) == "" {
		return "", eris.New("replacement content is required")
	}
	return content, nil
}

// printPosts writes a one-line-per-post table.
func printPosts(out io.Writer, posts []model.GeneratedPost) {
	if len(posts) == 0 {
		_, _ = fmt.Fprintln(out, "No posts.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tQUALITY\tSCHEDULED\tHEADLINE")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-------\t---------\t--------")
	for _, p := range posts {
		slot := "-"
		if p.ScheduledFor != nil {
			slot = p.ScheduledFor.UTC().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\t%s\n",
			p.ID, p.Status, p.ContentType, p.QualityScore, slot, calendar.Headline(p.Content))
	}
	_ = w.Flush()
}

func printSlots(out io.Writer, slots []time.Time) {
	for _, s := range slots {
		_, _ = fmt.Fprintln(out, s.UTC().Format("Mon 2006-01-02 15:04 UTC"))
	}
}
