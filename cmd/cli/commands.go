package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/provider"
)

var syncCmd = &cobra.Command{
	Use:   "sync <provider>",
	Short: "Fetch activities newer than the last synced one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseProviders(args[0])
		if err != nil {
			return err
		}
		s, err := open(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.engine.Sync(cmd.Context(), ids[0])
		if err != nil {
			return err
		}

		fmt.Printf("Fetched %d, stored %d, skipped %d, failed %d\n",
			result.Fetched, result.Processed, result.Skipped, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  ✗ %s\n", e.Error())
		}
		return nil
	},
}

var syncActivityCmd = &cobra.Command{
	Use:   "sync-activity <provider> <activity-id>",
	Short: "Fetch a single activity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseProviders(args[0])
		if err != nil {
			return err
		}
		s, err := open(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.engine.SyncActivity(cmd.Context(), ids[0], args[1])
		if err != nil {
			return err
		}
		printInsert(result)
		return nil
	},
}

var syncGearsCmd = &cobra.Command{
	Use:   "sync-gears <provider>",
	Short: "Fetch the provider's gear list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseProviders(args[0])
		if err != nil {
			return err
		}
		s, err := open(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		defer s.Close()

		gearIDs, err := s.engine.SyncGears(cmd.Context(), ids[0])
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d gear item(s)\n", len(gearIDs))
		for _, id := range gearIDs {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

func gearLinkCmd(use, short string, unlink bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <provider> <activity-id> <gear-id>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseProviders(args[0])
			if err != nil {
				return err
			}
			s, err := open(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			defer s.Close()

			if unlink {
				err = s.engine.UnlinkGear(cmd.Context(), ids[0], args[1], args[2])
			} else {
				err = s.engine.LinkGear(cmd.Context(), ids[0], args[1], args[2])
			}
			if err != nil {
				return err
			}
			fmt.Println("✓ Done")
			return nil
		},
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download <provider> <activity-id> <path>",
	Short: "Save the provider's export of an activity",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseProviders(args[0])
		if err != nil {
			return err
		}
		s, err := open(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.engine.Download(cmd.Context(), ids[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("✓ Saved %s\n", args[2])
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <provider> <file>",
	Short: "Import a FIT, TCX or GPX file into a provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseProviders(args[0])
		if err != nil {
			return err
		}
		s, err := open(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.engine.Upload(cmd.Context(), ids[0], args[1])
		if err != nil {
			return err
		}
		printInsert(result)
		return nil
	},
}

var copyDir string

var copyCmd = &cobra.Command{
	Use:   "copy <from> <to> <activity-id>",
	Short: "Copy an activity file from one provider to another",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseProviders(args[0], args[1])
		if err != nil {
			return err
		}
		s, err := open(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.engine.CopyActivity(cmd.Context(), ids[0], ids[1], args[2], copyDir)
		if err != nil {
			return err
		}
		printInsert(result)
		return nil
	},
}

var (
	runsProvider string
	runsLimit    int
	runsJSON     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var id provider.ID
		if runsProvider != "" {
			ids, err := parseProviders(runsProvider)
			if err != nil {
				return err
			}
			id = ids[0]
		}
		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.engine.ListRuns(cmd.Context(), id, runsLimit)
		if err != nil {
			return err
		}

		if runsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		printRuns(runs)
		return nil
	},
}

func init() {
	copyCmd.Flags().StringVar(&copyDir, "dir", "", "Keep the downloaded file in this directory")

	runsCmd.Flags().StringVar(&runsProvider, "provider", "", "Only list runs of this provider")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output runs as JSON")

	rootCmd.AddCommand(
		syncCmd,
		syncActivityCmd,
		syncGearsCmd,
		gearLinkCmd("link-gear", "Link gear to an activity", false),
		gearLinkCmd("unlink-gear", "Unlink gear from an activity", true),
		downloadCmd,
		uploadCmd,
		copyCmd,
		runsCmd,
	)
}

func printInsert(result *database.InsertResult) {
	if result.Created {
		fmt.Printf("✓ Created activity %s\n", result.ActivityID)
	} else {
		fmt.Printf("✓ Merged into activity %s\n", result.ActivityID)
	}
	for _, id := range result.GearIDs {
		fmt.Printf("  gear %s\n", id)
	}
}

func printRuns(runs []*database.SyncRun) {
	if len(runs) == 0 {
		fmt.Println("No sync runs recorded.")
		return
	}
	for _, run := range runs {
		status := "ok"
		if run.Error != nil {
			status = "error: " + *run.Error
		} else if run.Failed > 0 {
			status = "partial"
		}
		fmt.Printf("#%d %s %s (%s)\n", run.ID, run.Provider,
			run.StartedAt.Format(time.RFC3339), run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
		fmt.Printf("  fetched %d, stored %d, skipped %d, failed %d, %s\n",
			run.Fetched, run.Processed, run.Skipped, run.Failed, status)
	}
}
