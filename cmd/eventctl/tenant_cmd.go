package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/tenant"
)

func tenantsPath(storageDir string) string {
	return filepath.Join(storageDir, "tenants.json")
}

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var eventsPerDay, storageBytes, queriesPerHour int64
	create := &cobra.Command{
		Use:   "create <tenant-id> <name>",
		Short: "Register a new tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := tenantsPath(cfg.StorageDir)
			reg, err := tenant.LoadRegistryFromFile(path)
			if err != nil {
				return err
			}
			id, err := engine.NewTenantId(args[0])
			if err != nil {
				return err
			}
			t := tenant.New(id, args[1], tenant.Quotas{
				EventsPerDay:   eventsPerDay,
				StorageBytes:   storageBytes,
				QueriesPerHour: queriesPerHour,
			})
			if err := reg.Create(context.Background(), t); err != nil {
				return err
			}
			if err := reg.SaveToFile(path); err != nil {
				return err
			}
			fmt.Printf("created tenant %s\n", id)
			return nil
		},
	}
	create.Flags().Int64Var(&eventsPerDay, "events-per-day", 0, "events/day quota (0 = unlimited)")
	create.Flags().Int64Var(&storageBytes, "storage-bytes", 0, "storage bytes quota (0 = unlimited)")
	create.Flags().Int64Var(&queriesPerHour, "queries-per-hour", 0, "queries/hour quota (0 = unlimited)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := tenant.LoadRegistryFromFile(tenantsPath(cfg.StorageDir))
			if err != nil {
				return err
			}
			list, err := reg.List(context.Background())
			if err != nil {
				return err
			}
			for _, t := range list {
				fmt.Printf("%-24s %-24s active=%-5t events_today=%d\n", t.ID, t.Name, t.Active, t.Usage.EventsToday)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats <tenant-id>",
		Short: "Show usage and quota detail for one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := tenant.LoadRegistryFromFile(tenantsPath(cfg.StorageDir))
			if err != nil {
				return err
			}
			t, err := reg.Get(context.Background(), engine.TenantId(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("tenant:            %s\n", t.ID)
			fmt.Printf("name:              %s\n", t.Name)
			fmt.Printf("active:            %t\n", t.Active)
			fmt.Printf("events today:      %d / %d\n", t.Usage.EventsToday, t.Quotas.EventsPerDay)
			fmt.Printf("storage bytes:     %d / %d\n", t.Usage.StorageBytesUsed, t.Quotas.StorageBytes)
			fmt.Printf("queries this hour: %d / %d\n", t.Usage.QueriesThisHour, t.Quotas.QueriesPerHour)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate <tenant-id>",
		Short: "Deactivate a tenant, blocking further ingest and queries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := tenantsPath(cfg.StorageDir)
			reg, err := tenant.LoadRegistryFromFile(path)
			if err != nil {
				return err
			}
			ctx := context.Background()
			t, err := reg.Get(ctx, engine.TenantId(args[0]))
			if err != nil {
				return err
			}
			t.Deactivate(time.Now().UTC())
			if err := reg.Update(ctx, t); err != nil {
				return err
			}
			return reg.SaveToFile(path)
		},
	})

	return cmd
}
