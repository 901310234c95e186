package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/calendar"
	"github.com/sells-group/postpilot/pkg/notion"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Content calendar in Notion",
}

var calendarPostID string

var calendarSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push scheduled posts to the Notion calendar database",
	Long:  "Push every approved, scheduled post to the Notion calendar database, or only the post named by --post.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("calendar"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
		syncer := calendar.NewSyncer(client, cfg.Notion.CalendarDB, st)
		var res *calendar.Result
		if calendarPostID != "" {
			res, err = syncer.SyncPost(ctx, calendarPostID)
		} else {
			res, err = syncer.Sync(ctx)
		}
		if err != nil {
			return err
		}

		zap.L().Info("calendar sync complete",
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	calendarSyncCmd.Flags().StringVar(&calendarPostID, "post", "", "sync only this post ID")
	calendarCmd.AddCommand(calendarSyncCmd)
	rootCmd.AddCommand(calendarCmd)
}
