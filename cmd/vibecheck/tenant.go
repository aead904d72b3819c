package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/recurrence"
	"github.com/bonesco/vibe-checker/pkg/security"
)

func newTenantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var (
		timezone      string
		admins        []string
		reportChannel string
	)
	add := &cobra.Command{
		Use:   "add <tenant-id>",
		Short: "Register a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := recurrence.LoadLocation(timezone); err != nil {
				return err
			}
			if reportChannel != "" {
				if err := security.ValidateTargetRef(reportChannel); err != nil {
					return err
				}
			}

			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			if sqlDB, err := store.DB().DB(); err == nil {
				defer sqlDB.Close()
			}

			tenant := &core.Tenant{
				ID:            args[0],
				Timezone:      timezone,
				AdminUserIDs:  admins,
				ReportChannel: reportChannel,
			}
			if err := store.CreateTenant(cmd.Context(), tenant); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created (%s, %d admin(s))\n", tenant.ID, tenant.Timezone, len(admins))
			return nil
		},
	}
	add.Flags().StringVar(&timezone, "timezone", "UTC", "default IANA timezone for definitions")
	add.Flags().StringSliceVar(&admins, "admin", nil, "admin user id (repeatable)")
	add.Flags().StringVar(&reportChannel, "report-channel", "", "channel that receives feedback summaries")

	cmd.AddCommand(add)
	return cmd
}
