/* Copyright 2025 Tempus Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License. */

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/pkg"
)

var dbDSN string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "tempus",
		Short:   "Administer tempus temporal table databases",
		Long: "tempus is the command line client for the tempus temporal table\n" +
			"engine. Without a subcommand it starts an interactive shell, or\n" +
			"executes commands read from a pipe.",
		Version:       common.VersionString,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			// Piped input runs non-interactively, one command per line.
			stat, _ := os.Stdin.Stat()
			if (stat.Mode() & os.ModeCharDevice) == 0 {
				return runBatch(db, os.Stdin)
			}

			sh, err := newShell(db)
			if err != nil {
				return err
			}
			defer sh.Close()
			return sh.Run()
		},
	}

	root.PersistentFlags().StringVar(&dbDSN, "db", "memory://",
		"database location (file://<path> or memory://)")

	root.AddCommand(
		newShellCommand(),
		newTablesCommand(),
		newInfoCommand(),
		newQueryCommand(),
		newCompactCommand(),
		newVerifyCommand(),
		newSnapshotCommand(),
	)
	return root
}

func openDB() (*pkg.DB, error) {
	db, err := pkg.Open(dbDSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbDSN, err)
	}
	return db, nil
}

// runBatch executes commands from a pipe, one per line. Errors are
// reported and the remaining lines still run, so a partially bad script
// does as much as it can.
func runBatch(db *pkg.DB, in io.Reader) error {
	s := &session{db: db, out: os.Stdout}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
			continue
		}

		start := time.Now()
		err := s.dispatch(line)
		if errors.Is(err, errExitRequested) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Printf("executed in %v\n", time.Since(start))
	}
	return scanner.Err()
}

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			sh, err := newShell(db)
			if err != nil {
				return err
			}
			defer sh.Close()
			return sh.Run()
		},
	}
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with row and version counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			s := &session{db: db, out: cmd.OutOrStdout()}
			return s.cmdTables(nil)
		},
	}
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <table>",
		Short: "Show a table's schema, indexes and stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			s := &session{db: db, out: cmd.OutOrStdout()}
			return s.cmdInfo(args)
		},
	}
}

func newQueryCommand() *cobra.Command {
	var (
		asOf, from, to    int64
		inclusive, within bool
		history           bool
		where, columns    string
		using, key        string
		limit             int
	)

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Run a temporal query against a table",
		Long: "query reads a table at a point in time or across a window.\n" +
			"Without temporal flags it returns the current rows. --as-of reads\n" +
			"at an instant; --from/--to read the half-open window [from, to),\n" +
			"with --inclusive closing the upper bound and --within restricting\n" +
			"to versions wholly inside the window; --history returns every\n" +
			"version ever recorded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := pkg.Current()
			windowed := cmd.Flags().Changed("from") || cmd.Flags().Changed("to")
			switch {
			case history:
				q = pkg.AllVersions()
			case cmd.Flags().Changed("as-of"):
				q = pkg.AsOf(asOf)
			case within:
				q = pkg.ContainedIn(from, to)
			case inclusive:
				q = pkg.Between(from, to)
			case windowed:
				q = pkg.FromTo(from, to)
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			s := &session{db: db, out: cmd.OutOrStdout()}
			return s.scanTable(args[0], q, scanOptions{
				where:   where,
				columns: splitList(columns),
				index:   using,
				key:     key,
				limit:   limit,
			})
		},
	}

	cmd.Flags().Int64Var(&asOf, "as-of", 0, "read the versions valid at this timestamp")
	cmd.Flags().Int64Var(&from, "from", 0, "window lower bound")
	cmd.Flags().Int64Var(&to, "to", 0, "window upper bound")
	cmd.Flags().BoolVar(&inclusive, "inclusive", false, "include versions becoming valid exactly at --to")
	cmd.Flags().BoolVar(&within, "within", false, "only versions opened and closed inside the window")
	cmd.Flags().BoolVar(&history, "history", false, "every version, current and historical")
	cmd.Flags().StringVar(&where, "where", "", "filter, e.g. 'salary>=50000' or 'dept=eng'")
	cmd.Flags().StringVar(&columns, "columns", "", "comma-separated columns to return")
	cmd.Flags().StringVar(&using, "using", "", "read through this index")
	cmd.Flags().StringVar(&key, "key", "", "comma-separated index key values (with --using)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many versions (0 = all)")
	return cmd
}

func newCompactCommand() *cobra.Command {
	var horizon int64

	cmd := &cobra.Command{
		Use:   "compact <table>",
		Short: "Purge history versions older than a horizon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			tbl, err := db.Table(args[0])
			if err != nil {
				return err
			}
			stats, err := tbl.CompactHistory(context.Background(), horizon)
			if err != nil {
				return err
			}
			printCompactStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().Int64Var(&horizon, "horizon", 0, "purge closed versions with ValidTo below this timestamp")
	_ = cmd.MarkFlagRequired("horizon")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [table]",
		Short: "Check version chain and index invariants",
		Long: "verify walks every version of the named table (or all tables) and\n" +
			"reports structural violations: malformed or overlapping validity\n" +
			"intervals, duplicate current versions, and current rows missing\n" +
			"from their indexes. Exits non-zero when anything is wrong.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			s := &session{db: db, out: cmd.OutOrStdout()}
			return s.cmdVerify(args)
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Create and restore whole-database snapshots",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a consistent snapshot of every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			info, err := db.CreateSnapshot(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d tables, %d versions\n  %s\n",
				info.ID, info.Tables, info.Versions, info.URL)
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore [url]",
		Short: "Load a snapshot into an empty database",
		Long: "restore replaces the database contents with a snapshot. With no\n" +
			"argument the most recent snapshot at the configured location is\n" +
			"used. The database must be empty.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			if err := db.RestoreSnapshot(context.Background(), url); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d tables\n", len(db.ListTables()))
			return nil
		},
	}

	snapshot.AddCommand(create, restore)
	return snapshot
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
