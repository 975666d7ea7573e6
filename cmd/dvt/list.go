package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/dvt/internal/core/compose"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the volumes and bind mounts a compose project uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(c, cmd)
		},
	}
}

func runList(c *cli, cmd *cobra.Command) error {
	project, err := c.loadProject()
	if err != nil {
		return err
	}

	rows := project.ListRows()
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintf(out, "project %s declares no volume or bind mounts\n", project.Name)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSOURCE\tTYPE\tMOUNT PATH\tMODE\tEXTERNAL")
	binds := 0
	for _, row := range rows {
		if row.Kind == compose.MountKindBind {
			binds++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Service,
			row.Source,
			row.Kind,
			row.Target,
			mode(row.ReadOnly),
			yesNo(row.External),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	inventory, err := project.BuildInventory(nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d mounts: %d named volumes, %d bind mounts\n",
		len(rows), len(inventory), binds)
	return nil
}

func mode(readOnly bool) string {
	if readOnly {
		return "ro"
	}
	return "rw"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
