// Package cmd provides the vellum command-line interface.
//
// Configuration is layered with clear precedence: command-line flags
// over VELLUM_ prefixed environment variables over the .vellum.yml
// configuration file over built-in defaults. A custom config file can
// be selected with --config or the VELLUM_CONFIG_FILE environment
// variable.
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vellum",
	Short: "Content assembly engine",
	Long: `Vellum assembles content items against templates: it resolves the
template for each work item, evaluates the template's variable
bindings, rewrites inline references in content fields, and renders
the result through a pluggable assembler.

Quick start:
  vellum assemble <item-id>       Assemble one item to stdout
  vellum serve                    Start the preview server with live reload
  vellum version                  Show version information`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .vellum.yml, can also use VELLUM_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("repository", "", "repository root directory")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("repository.root", rootCmd.PersistentFlags().Lookup("repository"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("VELLUM_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".vellum")
	}

	viper.SetEnvPrefix("VELLUM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; defaults and environment carry it.
	_ = viper.ReadInConfig()
}
