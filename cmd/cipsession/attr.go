package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newAttrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Get and set single CIP attributes",
	}
	cmd.AddCommand(newAttrGetCmd())
	cmd.AddCommand(newAttrSetCmd())
	return cmd
}

func newAttrGetCmd() *cobra.Command {
	flags := &commonFlags{}
	var pathArg string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get_Attribute_Single on a class/instance/attribute path",
		Example: `  # Identity object vendor id
  cipsession attr get --host 10.0.0.50 --path 0x01/1/1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := parsePath(pathArg)
			if err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "attr get", func(sessionID string) error {
				status, data, err := a.facade.GetAttributeSingle(context.Background(), sessionID, path)
				if err != nil {
					return err
				}
				fmt.Printf("status: %s\n", status)
				fmt.Printf("data:   %s\n", hex.EncodeToString(data))
				return nil
			})
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().StringVar(&pathArg, "path", "", "CIP path as class/instance/attribute (required)")
	cmd.MarkFlagRequired("path")
	return cmd
}

func newAttrSetCmd() *cobra.Command {
	flags := &commonFlags{}
	var pathArg string
	var valueHex string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set_Attribute_Single on a class/instance/attribute path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := parsePath(pathArg)
			if err != nil {
				return err
			}
			value, err := hex.DecodeString(valueHex)
			if err != nil {
				return fmt.Errorf("value is not valid hex: %w", err)
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			return a.withSession(context.Background(), "attr set", func(sessionID string) error {
				status, err := a.facade.SetAttributeSingle(context.Background(), sessionID, path, value)
				if err != nil {
					return err
				}
				fmt.Printf("status: %s\n", status)
				return nil
			})
		},
	}

	addCommonFlags(cmd, flags)
	cmd.Flags().StringVar(&pathArg, "path", "", "CIP path as class/instance/attribute (required)")
	cmd.Flags().StringVar(&valueHex, "value", "", "attribute value as hex (required)")
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("value")
	return cmd
}
