package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/franz/electric/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "electric",
		Short: "Electric - curated music library manager",
		Long: `electric keeps a numbered catalog of songs and the files that belong to it.

It imports new audio from a queue directory with normalized tags, and
reconciles the local library and any number of remotes (directories or
Android devices over adb) with the catalog: missing files are copied,
stale names and tags are repaired, and files the catalog does not know
are reported or pruned.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./electric.yaml or $HOME/.config/electric/electric.yaml)")
	flags.StringP("root", "r", ".", "root directory")
	flags.String("music-root", "", "music directory (default: <root>)")
	flags.String("catalog", "", "catalog file (default: <root>/manifest.txt)")
	flags.String("db", "", "journal database (default: <root>/electric.db)")
	flags.String("layout", "", "filename layout (v1, v2)")
	flags.BoolP("dry-run", "n", false, "don't change anything, only show what would happen")
	flags.BoolP("yes", "y", false, "skip the confirmation prompt")
	flags.Bool("prune", false, "delete files the catalog does not account for")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.BoolP("quiet", "q", false, "quiet output (errors only)")
	flags.Bool("no-color", false, "disable colored output")

	// Bind flags to viper
	viper.BindPFlag("root", flags.Lookup("root"))
	viper.BindPFlag("music_root", flags.Lookup("music-root"))
	viper.BindPFlag("catalog", flags.Lookup("catalog"))
	viper.BindPFlag("db", flags.Lookup("db"))
	viper.BindPFlag("layout", flags.Lookup("layout"))
	viper.BindPFlag("dry_run", flags.Lookup("dry-run"))
	viper.BindPFlag("yes", flags.Lookup("yes"))
	viper.BindPFlag("prune", flags.Lookup("prune"))
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("quiet", flags.Lookup("quiet"))
	viper.BindPFlag("no_color", flags.Lookup("no-color"))
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/electric")
		}
		viper.SetConfigName("electric")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix("ELECTRIC")
	viper.AutomaticEnv()

	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
	if viper.GetBool("no_color") {
		util.SetColors(false)
	}

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		util.DebugLog("Using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		util.WarnLog("Failed to read config file %s: %v", cfgFile, err)
	}
}

// exitCode maps an error to the process exit status. Incomplete runs
// (unresolved songs, failed operations) exit 2 so scripts can tell them apart
// from usage and configuration errors.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, util.ErrUnresolved):
		return 2
	case errors.Is(err, util.ErrLocked):
		return 3
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
