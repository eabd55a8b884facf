package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newAssemblyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assembly",
		Short: "Read, write, and decode assembly data",
	}
	cmd.AddCommand(newAssemblyReadCmd())
	cmd.AddCommand(newAssemblyWriteCmd())
	cmd.AddCommand(newAssemblyRuntimeCmd())
	cmd.AddCommand(newAssemblyUpdateCmd())
	return cmd
}

func newAssemblyReadCmd() *cobra.Command {
	flags := &commonFlags{}
	var class, instance, size int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read an assembly's Data attribute by class/instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "assembly read", func(sessionID string) error {
				result, err := a.facade.ReadAssembly(context.Background(), sessionID, uint16(class), uint16(instance), size)
				if err != nil {
					return err
				}
				fmt.Printf("status: %s\n", result.Status)
				fmt.Printf("data:   %s\n", result.DataHex)
				if result.WordValues != nil {
					words := make([]string, len(result.WordValues))
					for i, w := range result.WordValues {
						words[i] = fmt.Sprintf("0x%04X", w)
					}
					fmt.Printf("words:  %s\n", strings.Join(words, " "))
				}
				return nil
			})
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().IntVar(&class, "class", 0x04, "assembly class id")
	cmd.Flags().IntVar(&instance, "instance", 0, "assembly instance id (required)")
	cmd.Flags().IntVar(&size, "size", 0, "expected total size in bytes")
	cmd.MarkFlagRequired("instance")
	return cmd
}

func newAssemblyWriteCmd() *cobra.Command {
	flags := &commonFlags{}
	var alias, payloadHex string

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write an assembly's Data attribute by alias",
		Long: `Write the Data attribute of the assembly named by --alias. The alias is
resolved against the loaded device configuration; a literal "class/instance"
pair is accepted for assemblies never declared there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "assembly write", func(sessionID string) error {
				status, err := a.facade.WriteAssembly(context.Background(), sessionID, alias, payloadHex)
				if err != nil {
					return err
				}
				fmt.Printf("status: %s\n", status)
				return nil
			})
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().StringVar(&alias, "alias", "", "assembly alias or class/instance pair (required)")
	cmd.Flags().StringVar(&payloadHex, "payload", "", "payload as hex (required)")
	cmd.MarkFlagRequired("alias")
	cmd.MarkFlagRequired("payload")
	return cmd
}

func newAssemblyRuntimeCmd() *cobra.Command {
	flags := &commonFlags{}
	var alias string

	cmd := &cobra.Command{
		Use:   "runtime",
		Short: "Read an aliased assembly and decode its members",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "assembly runtime", func(sessionID string) error {
				runtime, err := a.facade.GetAssemblyRuntime(context.Background(), sessionID, alias)
				if err != nil {
					return err
				}
				fmt.Printf("assembly: %s (%d/%d)\n", runtime.Alias, runtime.Read.ClassID, runtime.Read.InstanceID)
				fmt.Printf("status:   %s\n", runtime.Read.Status)
				fmt.Printf("payload:  %s\n", runtime.Read.DataHex)
				for _, member := range runtime.Members {
					if member.RawHex == "" {
						fmt.Printf("  %-20s <past end of buffer>\n", member.Name)
						continue
					}
					if member.IntValue != nil {
						fmt.Printf("  %-20s %s (%d)\n", member.Name, member.RawHex, *member.IntValue)
					} else {
						fmt.Printf("  %-20s %s\n", member.Name, member.RawHex)
					}
				}
				return nil
			})
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().StringVar(&alias, "alias", "", "assembly alias (required)")
	cmd.MarkFlagRequired("alias")
	return cmd
}

func newAssemblyUpdateCmd() *cobra.Command {
	flags := &commonFlags{}
	var target string
	var values []string
	var noRollback bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Batch-update named assembly attributes with rollback",
		Example: `  cipsession assembly update --target inputs \
    --set production_trigger=1 --set production_inhibit_time=500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make(map[string]int64, len(values))
			for _, kv := range values {
				name, raw, found := strings.Cut(kv, "=")
				if !found {
					return fmt.Errorf("--set expects name=value, got %q", kv)
				}
				v, err := strconv.ParseInt(strings.TrimSpace(raw), 0, 64)
				if err != nil {
					return fmt.Errorf("value for %q: %w", name, err)
				}
				parsed[strings.TrimSpace(name)] = v
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "assembly update", func(sessionID string) error {
				results, err := a.facade.UpdateAttributes(context.Background(), sessionID, target, parsed, !noRollback)
				for name, status := range results {
					fmt.Printf("  %-26s %s\n", name, status)
				}
				return err
			})
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().StringVar(&target, "target", "", "assembly alias or class/instance pair (required)")
	cmd.Flags().StringArrayVar(&values, "set", nil, "attribute assignment name=value (repeatable)")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "keep partial writes instead of rolling back")
	cmd.MarkFlagRequired("target")
	return cmd
}
