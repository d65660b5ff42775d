package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/profile"
	"github.com/confsync/confsync/internal/util"
)

var profileCreateRemote string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage profiles",
	Long: `Manage profiles. Each profile has its own tracked paths and its own
backup repository; switching profiles never touches another profile's
data.`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE:  runProfileList,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileCreate,
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the active profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileUse,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

func init() {
	profileCreateCmd.Flags().StringVar(&profileCreateRemote, "remote", "", "remote git URL for the new profile")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileDeleteCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	env := util.NewReadonlyOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTRACKED\tREMOTE\tACTIVE")
	for _, p := range m.List() {
		remote := p.Remote
		if remote == "" {
			remote = "(local only)"
		}
		active := ""
		if p.Name == m.ActiveName() {
			active = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Name, len(p.Entries), remote, active)
	}
	return w.Flush()
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	env := util.NewOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}

	p, err := m.Create(args[0], profileCreateRemote)
	if err != nil {
		return err
	}
	if _, err := openBackend(env)(*p); err != nil {
		return err
	}

	progressDone(os.Stdout, "Created profile %q\n", p.Name)
	fmt.Printf("Switch to it with 'confsync profile use %s'.\n", p.Name)
	return nil
}

func runProfileUse(cmd *cobra.Command, args []string) error {
	env := util.NewOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}

	if err := m.Switch(args[0]); err != nil {
		return err
	}
	progressDone(os.Stdout, "Active profile is now %q\n", args[0])
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	env := util.NewOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}

	err = m.Delete(cmd.Context(), args[0], false)
	if errors.Is(err, profile.ErrConfirmationRequired) {
		fmt.Println(err)
		ok, perr := promptConfirm(fmt.Sprintf("Delete profile %q anyway?", args[0]))
		if perr != nil {
			return perr
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
		err = m.Delete(cmd.Context(), args[0], true)
	}
	if err != nil {
		return err
	}

	if err := env.Fs.RemoveAll(config.RepoDir(args[0])); err != nil {
		return fmt.Errorf("profile deleted but its repository was not: %w", err)
	}
	progressDone(os.Stdout, "Deleted profile %q and its repository\n", args[0])
	return nil
}
