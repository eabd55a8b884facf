package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tturner/cipsession/internal/logging"
	"github.com/tturner/cipsession/internal/plcsim"
)

func newServeCmd() *cobra.Command {
	var listen string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local CIP simulator (test fixture, not a deployment target)",
		Long: `Start the in-process CIP/ENIP simulator on a local port. The simulator
registers sessions, answers Forward Open/Close and Get/Set Attribute Single,
and serves a pair of seeded 16-byte assemblies (instances 0x64 and 0x65).

This is local test infrastructure for exercising the client against a
predictable peer; it is not a PLC emulation product.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LogLevelInfo
			if verbose {
				level = logging.LogLevelVerbose
			}
			logger, err := logging.NewLogger(level, "")
			if err != nil {
				return err
			}
			defer logger.Close()

			sim, err := plcsim.New(listen, plcsim.Options{}, logger)
			if err != nil {
				return err
			}
			defer sim.Close()

			seedAssembly(sim, 0x64)
			seedAssembly(sim, 0x65)

			fmt.Printf("simulator listening on %s\n", sim.Addr())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:44818", "listen address")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose logging")
	return cmd
}

// seedAssembly installs a 16-byte Data attribute plus the common numeric
// attributes on assembly class 0x04.
func seedAssembly(sim *plcsim.Server, instance uint16) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	sim.SetAttribute(0x04, instance, 0x03, data) // Data

	two := make([]byte, 2)
	binary.LittleEndian.PutUint16(two, 16)
	sim.SetAttribute(0x04, instance, 0x04, two)                // output size
	sim.SetAttribute(0x04, instance, 0x09, []byte{0x0A, 0x00}) // production inhibit time
	sim.SetAttribute(0x04, instance, 0x0B, []byte{0x01})       // production trigger
}
