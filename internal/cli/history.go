package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/history"
	"github.com/wesleyorama2/volley/internal/output"
)

func newHistoryCommand(a *app) *cobra.Command {
	var dbPath string

	open := func() (*history.Store, error) {
		path := dbPath
		if path == "" {
			p, err := history.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return history.Open(path)
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history store path (default ~/.volley/history.db)")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return withCode(ExitError, err)
			}
			defer store.Close()

			runs, err := store.List(limit)
			if err != nil {
				return withCode(ExitError, err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tDURATION\tREQUESTS\tERRORS\tRESULT")
			for _, r := range runs {
				verdict := "pass"
				switch {
				case !r.Passed:
					verdict = "FAIL"
				case r.Aborted:
					verdict = "aborted"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f%%\t%s\n",
					r.ID, r.Name, r.StartTime.Format(time.DateTime), r.Duration.Round(time.Millisecond),
					r.Requests, r.ErrorRate*100, verdict)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print the summary of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return withCode(ExitError, err)
			}
			defer store.Close()

			rec, err := store.Get(args[0])
			if err != nil {
				return withCode(ExitError, err)
			}
			if asJSON {
				return writeJSON(a.out, rec)
			}
			if rec.Result == nil {
				return withCode(ExitError, fmt.Errorf("run %s has no stored result", rec.ID))
			}
			if rec.ConfigPath != "" {
				fmt.Fprintf(a.out, "Config: %s\n", rec.ConfigPath)
			}
			output.NewConsole(output.Config{Writer: a.out}).PrintSummary(rec.Result)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the stored record as JSON")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return withCode(ExitError, err)
			}
			defer store.Close()
			if err := store.Delete(args[0]); err != nil {
				return withCode(ExitError, err)
			}
			fmt.Fprintf(a.out, "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
