package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/util"
)

var (
	initRemote string
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize confsync with a default profile",
	Long: `Initialize confsync by creating the configuration file and the default
profile's backup repository. Pass --remote to synchronize backups with a
remote git repository.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRemote, "remote", "", "remote git URL for the default profile")
	initCmd.Flags().BoolVar(&initForce, "force", false, "recreate the configuration file if it exists")
}

func runInit(cmd *cobra.Command, args []string) error {
	env := util.NewOsEnv()
	cfgPath := config.FilePath()

	if config.Exists(env.Fs, cfgPath) && !initForce {
		return fmt.Errorf("already initialized: %s (use --force to recreate)", cfgPath)
	}

	cfg := config.Default()
	cfg.Profiles = append(cfg.Profiles, config.Profile{
		ID:     uuid.NewString(),
		Name:   config.DefaultProfileName,
		Remote: initRemote,
	})
	if err := config.Save(env.Fs, cfgPath, cfg); err != nil {
		return err
	}
	progressDone(os.Stdout, "Created %s\n", cfgPath)

	// Materialize the default profile's repository up front so the first
	// backup does not surprise with an init step.
	if _, err := openBackend(env)(cfg.Profiles[0]); err != nil {
		return err
	}
	progressDone(os.Stdout, "Created repository %s\n", config.RepoDir(config.DefaultProfileName))

	fmt.Println("Track your first file with 'confsync add <path>'.")
	return nil
}
