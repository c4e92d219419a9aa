package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipstream/indexarr/internal/applications"
	"github.com/slipstream/indexarr/internal/database"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		db, err := database.Open(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if migrateDown {
			err = db.MigrateDown(ctx)
		} else {
			err = db.Migrate(ctx)
		}
		if err != nil {
			return err
		}
		version, err := db.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database %s at version %d\n", db.Path(), version)
		return nil
	},
}

var (
	searchKind       string
	searchCategories []int
	searchLimit      int
)

var searchCmd = &cobra.Command{
	Use:   "search <indexer-id> <query>",
	Short: "Search one indexer and print the releases as JSON",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd.Context(), cfg.Search.Timeout)
		defer cancel()

		a, err := openApp(ctx, cfg, log.Logger)
		if err != nil {
			return err
		}
		defer a.Close()

		criteria := types.SearchCriteria{
			Kind:       types.SearchKind(searchKind),
			Query:      strings.Join(args[1:], " "),
			Categories: searchCategories,
			Limit:      searchLimit,
		}
		releases, err := a.indexers.Search(ctx, id, criteria)
		if err != nil {
			return err
		}
		if searchLimit > 0 && len(releases) > searchLimit {
			releases = releases[:searchLimit]
		}
		return printJSON(cmd, releases)
	},
}

var testCmd = &cobra.Command{
	Use:   "test <indexer-id>",
	Short: "Check that an indexer can be reached and searched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), cfg, log.Logger)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.indexers.Test(cmd.Context(), id)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("indexer %d failed: %s", id, res.Message)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [app-id]",
	Short: "Reconcile one application, or all of them, with the indexer list",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd.Context(), 0)
		defer cancel()

		a, err := openApp(ctx, cfg, log.Logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			report, err := a.applications.SyncApp(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		}

		reports, err := a.applications.SyncAll(ctx)
		if reports == nil {
			reports = []*applications.SyncReport{}
		}
		if perr := printJSON(cmd, reports); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the latest migration")

	searchCmd.Flags().StringVarP(&searchKind, "kind", "k", string(types.SearchKindBasic), "search kind: search, tvsearch, movie, music or book")
	searchCmd.Flags().IntSliceVar(&searchCategories, "cat", nil, "category ids to filter on")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum number of releases to print")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
