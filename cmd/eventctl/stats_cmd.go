package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/repository/lsmrepo"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report repository occupancy and gaplessness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			repo, err := lsmrepo.Open(lsmrepo.Options{
				Dir:            filepath.Join(cfg.StorageDir, "lsm"),
				PartitionCount: cfg.PartitionCount,
			})
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer repo.Close()

			ctx := context.Background()

			count, err := repo.CountStreams(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("streams: %d\n", count)

			stats, err := repo.PartitionStats(ctx)
			if err != nil {
				return err
			}
			keys := make([]engine.PartitionKey, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			for _, k := range keys {
				s := stats[k]
				fmt.Printf("  partition %-4d streams=%-8d events=%d\n", k, s.StreamCount, s.EventCount)
			}

			broken, err := repo.VerifyGapless(ctx)
			if err != nil {
				return err
			}
			if len(broken) == 0 {
				fmt.Println("gapless: ok")
			} else {
				fmt.Printf("gapless: %d stream(s) have a version gap:\n", len(broken))
				for _, id := range broken {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}
	return cmd
}
