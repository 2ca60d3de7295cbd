package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ineyio/keyrotor/internal/app"
)

func newKeysCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List pool keys (masked) with today's usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, f.logger())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if a.Pool == nil {
				fmt.Fprintln(out, "no rotated provider configured")
				return nil
			}

			fmt.Fprintf(out, "pool %s, day %s, limit %d/key, %d of %d keys available\n\n",
				a.Pool.Name(), a.Pool.Day(), a.Pool.DailyLimit(), a.Pool.Available(), a.Pool.Len())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tFINGERPRINT\tUSED\tREMAINING\tSTATUS")
			for _, s := range a.Pool.Stats() {
				status := "ok"
				if s.Exhausted {
					status = "exhausted"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Key, s.Fingerprint, s.Used, s.Remaining, status)
			}
			return tw.Flush()
		},
	}
}
