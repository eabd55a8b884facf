package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/cipsession/internal/assembly"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/logging"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Load and inspect device configuration documents",
	}
	cmd.AddCommand(newConfigLoadCmd())
	return cmd
}

func newConfigLoadCmd() *cobra.Command {
	var file string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Parse a device configuration document and print its contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return cerr.WrapConfigError(fmt.Errorf("read device configuration: %w", err), file)
			}

			level := logging.LogLevelInfo
			if verbose {
				level = logging.LogLevelVerbose
			}
			logger, err := logging.NewLogger(level, "")
			if err != nil {
				return err
			}
			defer logger.Close()

			registry := assembly.NewRegistry(logger)
			if err := registry.Load(payload); err != nil {
				return cerr.WrapConfigError(err, file)
			}

			identity := registry.Identity()
			if identity.Name != "" {
				fmt.Printf("device: %s", identity.Name)
				if identity.Vendor != "" {
					fmt.Printf(" (%s)", identity.Vendor)
				}
				fmt.Println()
			}
			if identity.Revision != "" {
				fmt.Printf("revision: %s\n", identity.Revision)
			}
			if identity.SerialNumber != "" {
				fmt.Printf("serial: %s\n", identity.SerialNumber)
			}

			for _, asm := range registry.Assemblies() {
				size := "unsized"
				if asm.HasSize() {
					size = fmt.Sprintf("%d bytes", asm.Size)
				}
				fmt.Printf("assembly %-20s class 0x%02X instance %-4d %-13s %s\n",
					asm.Alias, asm.ClassID, asm.InstanceID, asm.Direction, size)
				for _, member := range asm.Members {
					placement := ""
					if member.HasOffset && member.HasSize {
						placement = fmt.Sprintf(" [%d:%d]", member.Offset, member.Offset+member.Size)
					}
					fmt.Printf("  member %-20s %s%s\n", member.Name, member.Datatype, placement)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "device configuration XML file (required)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose logging")
	cmd.MarkFlagRequired("file")
	return cmd
}
