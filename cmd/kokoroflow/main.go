package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kokoroflow/kokoroflow/pkg/logger"
)

var globalOptions = struct {
	configFile string
	logLevel   string
	logFormat  string
}{}

var rootCmd = &cobra.Command{
	Use:   "kokoroflow",
	Short: "KokoroFlow conversation engine CLI",
	Long: `KokoroFlow drives chat conversations with a human attention rhythm:
it replies, commits to waiting for a reaction, follows up on silence, and
opens conversations on its own.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.SetLogLevel(globalOptions.logLevel); err != nil {
			return err
		}
		logger.SetLogFormat(globalOptions.logFormat)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

func bindGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVar(&globalOptions.configFile, "config", "", "Config file (default ./config.yaml, then ~/.kokoroflow/config.yaml)")
	flags.StringVar(&globalOptions.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&globalOptions.logFormat, "log-format", "text", "Log format (text or json)")
}

func main() {
	bindGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
