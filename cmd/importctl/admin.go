package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bulkimport/bulkimport/internal/config"
	"github.com/bulkimport/bulkimport/internal/database"
	"github.com/bulkimport/bulkimport/internal/recordtype"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the task store migrations to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.GetString("env-file"))
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s on %s\n", cfg.Database.Database, cfg.Database.Host)
			return nil
		},
	}
}

func newRecordTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record-types",
		Short: "List the configured record types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.GetString("env-file"))
			if err != nil {
				return err
			}
			types := recordtype.DefaultConfig()
			if cfg.Importer.RecordTypesFile != "" {
				if types, err = recordtype.Load(cfg.Importer.RecordTypesFile); err != nil {
					return err
				}
			}

			if viper.GetBool("json") {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(types.RecordTypes)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Name", "Serializers", "DOI minting", "Publish", "Community required"})
			for _, name := range types.Names() {
				rt, _ := types.Lookup(name)
				tw.AppendRow(table.Row{name, strings.Join(rt.Serializers, ","), rt.Options.DOIMinting, rt.Options.Publish, rt.CommunityRequired})
			}
			tw.Render()
			return nil
		},
	}
}
