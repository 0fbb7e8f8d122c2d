package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cordal-io/cordal/core"
	"github.com/cordal-io/cordal/serv"
)

var syncStrategy string

// migrateCmd is the cobra CLI command for the migrate subcommand
func migrateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Move configuration between the filesystem and the store",
	}

	c.AddCommand(&cobra.Command{
		Use:   "fs-to-store",
		Short: "Copy every filesystem descriptor into the config store",
		RunE:  cmdMigrateFSToStore,
	})
	c.AddCommand(&cobra.Command{
		Use:   "compare",
		Short: "Diff the filesystem and store configuration sources",
		RunE:  cmdMigrateCompare,
	})
	c.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Export the store contents as YAML documents",
		RunE:  cmdMigrateExport,
	})

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the two sources under a sync strategy",
		RunE:  cmdMigrateSync,
	}
	sync.Flags().StringVar(&syncStrategy, "strategy", string(core.SyncManualReview),
		"FS_TO_STORE, STORE_TO_FS, FS_WINS, STORE_WINS or MANUAL_REVIEW")
	c.AddCommand(sync)

	return c
}

// migratorSetup builds a service and returns its migrator with the store
// schema in place.
func migratorSetup(ctx context.Context) (*core.Migrator, error) {
	setup(cpath)

	zlog := serv.NewLogger(conf)
	s, err := serv.NewService(conf, zlog)
	if err != nil {
		return nil, err
	}

	e := s.Engine()
	if e.Migrator == nil {
		return nil, fmt.Errorf("migration requires config.store.url to be set")
	}
	if err := e.Store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return e.Migrator, nil
}

// printReport renders any migration payload as indented JSON on stdout.
func printReport(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cmdMigrateFSToStore is the handler for migrate fs-to-store
func cmdMigrateFSToStore(cmd *cobra.Command, _ []string) error {
	m, err := migratorSetup(cmd.Context())
	if err != nil {
		return err
	}
	rep, err := m.MigrateFSToStore(cmd.Context())
	if err != nil {
		return err
	}
	return printReport(rep)
}

// cmdMigrateCompare is the handler for migrate compare
func cmdMigrateCompare(cmd *cobra.Command, _ []string) error {
	m, err := migratorSetup(cmd.Context())
	if err != nil {
		return err
	}
	rep, err := m.Compare()
	if err != nil {
		return err
	}
	return printReport(rep)
}

// cmdMigrateExport is the handler for migrate export
func cmdMigrateExport(cmd *cobra.Command, _ []string) error {
	m, err := migratorSetup(cmd.Context())
	if err != nil {
		return err
	}
	export, err := m.ExportStore()
	if err != nil {
		return err
	}
	fmt.Println(export.Databases)
	fmt.Println(export.Queries)
	fmt.Println(export.Endpoints)
	return nil
}

// cmdMigrateSync is the handler for migrate sync
func cmdMigrateSync(cmd *cobra.Command, _ []string) error {
	strategy := core.SyncStrategy(syncStrategy)
	if !strategy.Valid() {
		return fmt.Errorf("unknown sync strategy %q", syncStrategy)
	}

	m, err := migratorSetup(cmd.Context())
	if err != nil {
		return err
	}
	rep, err := m.Sync(cmd.Context(), strategy)
	if err != nil {
		return err
	}
	return printReport(rep)
}
