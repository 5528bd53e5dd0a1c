package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/lbridge/internal/property"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <property> <value>",
	Short: "Encode a control command",
	Long: `Builds the control frame that sets one property. Profile commands carry the
other profile fields of the sub-device too; pass the current sensor frame with
--state to keep them, otherwise they are sent as "unknown".

Values: bools as true/false or on/off, enums by case name or index, temperatures
in tenths of a degree, times as hh:mm:ss.

Examples:
  lbridge encode 00:grillrt:COOKING on
  lbridge encode 01:grillrt:TARGET_TEMP 650 --state 110002002d00000c1e0076029c012800`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

var encodeState string

func init() {
	encodeCmd.Flags().StringVar(&encodeState, "state", "", "Current sensor frame (hex) of the sub-device")
}

func runEncode(cmd *cobra.Command, args []string) error {
	name, err := property.ParseName(args[0])
	if err != nil {
		return err
	}
	class, err := classByModel(name.Model())
	if err != nil {
		return err
	}
	last, err := snapshotOf(class, encodeState)
	if err != nil {
		return fmt.Errorf("state frame: %w", err)
	}
	cmd.SilenceUsage = true

	v, err := class.Table.ParseValue(name.Field(), args[1])
	if err != nil {
		return err
	}
	frame, err := class.Table.Encode(name.Index(), name.Field(), v, last)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(frame))
	return nil
}
