package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/util"
)

var trackedCmd = &cobra.Command{
	Use:   "tracked",
	Short: "List tracked paths",
	Long:  `List every tracked path of the profile, in the order they were added.`,
	RunE:  runTracked,
}

func runTracked(cmd *cobra.Command, args []string) error {
	env := util.NewReadonlyOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}
	name := selectedProfile(m)

	reg, err := m.Registry(name)
	if err != nil {
		return err
	}
	entries := reg.Entries()
	if len(entries) == 0 {
		fmt.Printf("No tracked paths in profile %q. Add one with 'confsync add <path>'.\n", name)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tALIAS\tKIND\tENCRYPTED")
	for _, e := range entries {
		alias := e.Alias
		if alias == "" {
			alias = "-"
		}
		encrypted := ""
		if e.Encrypted {
			encrypted = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			util.ContractHome(reg.Home(), e.Path), alias, e.Kind, encrypted)
	}
	return w.Flush()
}
