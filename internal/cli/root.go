// Package cli implements the confsync command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version, Commit, and Date are set at build time via ldflags
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var rootCmd = &cobra.Command{
	Use:   "confsync",
	Short: "Back up and restore configuration files with git",
	Long: `confsync tracks configuration files and directories, detects when
they change, and records each change as a commit in a dedicated git
repository, optionally synchronized with a remote.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetRootCmd returns the root command for documentation generation.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("confsync version %s\ncommit: %s\ndate: %s\n", Version, Commit, Date))

	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "operate on the named profile instead of the active one")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(untrackCmd)
	rootCmd.AddCommand(trackedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(pathsCmd)
}
