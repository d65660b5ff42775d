package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/util"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	Long:  `List the profile's backups, newest first.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of backups to show (0 for all)")
}

func runList(cmd *cobra.Command, args []string) error {
	env := util.NewReadonlyOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}
	name := selectedProfile(m)

	eng, err := m.Engine(name)
	if err != nil {
		return err
	}
	history, err := eng.History(cmd.Context())
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("No backups yet. Create one with 'confsync backup'.")
		return nil
	}
	if listLimit > 0 && len(history) > listLimit {
		history = history[:listLimit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATE\tFILES\tMESSAGE")
	for _, rec := range history {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			rec.ShortID(),
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			len(rec.Changed),
			rec.Message)
	}
	return w.Flush()
}
