package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	cerr "github.com/tturner/cipsession/internal/errors"
)

func addCommonFlags(cmd *cobra.Command, flags *commonFlags) {
	cmd.Flags().StringVar(&flags.host, "host", "", "PLC host (default from config: 127.0.0.1)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "PLC TCP port (default from config: 44818)")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "process configuration file (YAML)")
	cmd.Flags().StringVar(&flags.deviceXML, "device-config", "", "device configuration document (XML)")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "write logs to this file")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "verbose logging")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "debug logging (includes frame hex dumps)")
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open, inspect, and close PLC sessions",
	}
	cmd.AddCommand(newSessionOpenCmd())
	cmd.AddCommand(newSessionDiagnosticsCmd())
	return cmd
}

func newSessionOpenCmd() *cobra.Command {
	flags := &commonFlags{}
	var copyID bool
	var hold bool
	var metricsListen string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a session and print its diagnostics",
		Long: `Open a session against the PLC endpoint, verify the Class 3 connection,
and print the session id and diagnostics.

With --hold the session stays open (heartbeat running) until interrupted;
without it the session is closed again before the command exits.`,
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
			diag, err := a.orch.Open(ctx, "", 0)
			if err != nil {
				return cerr.WrapNetworkError(err, a.cfg.Host, a.cfg.Port)
			}

			printDiagnostics(diag)
			if copyID {
				if err := clipboard.WriteAll(diag.SessionID); err != nil {
					a.logger.Error("copy session id: %v", err)
				} else {
					fmt.Println("session id copied to clipboard")
				}
			}

			if hold {
				if metricsListen != "" {
					a.serveMetrics(metricsListen)
				}
				fmt.Println("session held open; press Ctrl-C to close")
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
			}
			return a.orch.Close(ctx, diag.SessionID)
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().BoolVar(&copyID, "copy-id", false, "copy the session id to the clipboard")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the session open until interrupted")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "with --hold, expose prometheus metrics on this address")
	return cmd
}

func newSessionDiagnosticsCmd() *cobra.Command {
	flags := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Open a session, print its diagnostics, close it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "session diagnostics", func(sessionID string) error {
				diag, err := a.orch.Diagnostics(sessionID)
				if err != nil {
					return err
				}
				printDiagnostics(diag)
				return nil
			})
		},
	}

	addCommonFlags(cmd, flags)
	return cmd
}
