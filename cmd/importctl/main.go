// Command importctl runs bulk imports from the command line. Tasks run on
// an in-process pool; without PLATFORM_URL records land on the in-memory
// platform, which makes it a dry run of a batch file.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Validate and import batches of records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	viper.SetEnvPrefix("IMPORTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cmd.PersistentFlags().String("env-file", ".env", "environment file read before the configuration is parsed")
	cmd.PersistentFlags().Bool("json", false, "print JSON instead of tables")
	_ = viper.BindPFlag("env-file", cmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("json", cmd.PersistentFlags().Lookup("json"))

	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newRecordTypesCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
