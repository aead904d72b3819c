package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/recurrence"
)

func newNextCmd(a *app) *cobra.Command {
	var (
		def   core.JobDefinition
		count int
		after string
	)
	cmd := &cobra.Command{
		Use:   "next [definition-id]",
		Short: "Preview upcoming fire times",
		Long: `Preview upcoming fire times of a stored definition, or of the
schedule given by --recurrence, --time and --timezone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			from := time.Now()
			if after != "" {
				t, err := time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("--after: %w", err)
				}
				from = t
			}

			target := &def
			if len(args) == 1 {
				store, err := a.openStore(cmd)
				if err != nil {
					return err
				}
				if sqlDB, err := store.DB().DB(); err == nil {
					defer sqlDB.Close()
				}
				stored, err := store.GetDefinition(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if stored == nil {
					return core.ErrUnknownDefinition
				}
				target = stored
			}

			times, err := recurrence.Preview(target, from, count)
			if err != nil {
				return err
			}
			loc, _ := recurrence.LoadLocation(target.Timezone)
			for _, t := range times {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", t.UTC().Format(time.RFC3339), t.In(loc).Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&def.Recurrence, "recurrence", "daily", `"daily", "weekly:N" or "monday_only"`)
	cmd.Flags().StringVar(&def.TimeOfDay, "time", "09:00", "local time of day, HH:MM")
	cmd.Flags().StringVar(&def.Timezone, "timezone", "UTC", "IANA timezone")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times")
	cmd.Flags().StringVar(&after, "after", "", "start instant (RFC3339, default now)")
	return cmd
}
