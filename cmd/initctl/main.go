// Command initctl is the control client: list, start, stop, status, emit.
//
// There is no wire transport to a running supervisor yet, so unlike a
// typical RPC client this binary has no daemon to dial. Instead it reloads
// the same configuration tree a running supervisor would
// (--conf-dir/--conf-file) into a fresh, local internal/control.Surface and
// operates on that snapshot — a stand-in for the transport call a future
// version would make.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	confDir  string
	confFile string
)

func main() {
	cobra.EnableCommandSorting = false
	cmd := &cobra.Command{
		Use:   "initctl",
		Short: "control client for the supervisor",
	}
	cmd.PersistentFlags().StringVar(&confDir, "conf-dir", "/etc/init", "job directory source to load (spec §3 JobDir)")
	cmd.PersistentFlags().StringVar(&confFile, "conf-file", "", "[Optional] single job file source to additionally load")
	cmd.Flags().SortFlags = false

	cmd.AddCommand(listCmd())
	cmd.AddCommand(startCmd())
	cmd.AddCommand(stopCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(emitCmd())

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
