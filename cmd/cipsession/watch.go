package main

import (
	"context"

	"github.com/spf13/cobra"

	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/tui"
)

func newWatchCmd() *cobra.Command {
	flags := &commonFlags{}
	var sessions int
	var metricsListen string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open sessions and watch their diagnostics in a live dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptHostIfMissing(flags); err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			for i := 0; i < sessions; i++ {
				if _, err := a.orch.Open(ctx, "", 0); err != nil {
					return cerr.WrapNetworkError(err, a.cfg.Host, a.cfg.Port)
				}
			}
			if metricsListen != "" {
				a.serveMetrics(metricsListen)
			}
			return tui.Run(a.orch)
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().IntVar(&sessions, "sessions", 1, "number of sessions to open")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose prometheus metrics on this address")
	return cmd
}
