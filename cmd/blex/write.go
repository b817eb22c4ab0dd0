package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blex/internal/explorer"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <peripheral-id> <data>",
	Short: "Write a characteristic or descriptor value",
	Long: fmt.Sprintf(`Writes data to a characteristic or to one of its descriptors.

Data is sent as text unless --hex is given.

Examples:
  # Write text
  blex write %s "hello" --char ffe1

  # Write bytes without response
  blex write %s "01 02 ff" --hex --char ffe1 --without-response

  # Enable notifications through the CCCD
  blex write %s 0100 --hex --service 180d --char 2a37 --desc 2902

%s`, examplePeripheralID, examplePeripheralID, examplePeripheralID, peripheralIDNote),
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeServiceUUID     string
	writeCharUUID        string
	writeDescUUID        string
	writeHex             bool
	writeWithoutResponse bool
	writeTimeout         time.Duration
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (needed when the characteristic is not unique)")
	writeCmd.Flags().StringVarP(&writeCharUUID, "char", "c", "", "Characteristic UUID")
	writeCmd.Flags().StringVar(&writeDescUUID, "desc", "", "Descriptor UUID")
	writeCmd.Flags().BoolVarP(&writeHex, "hex", "x", false, "Parse data as hex")
	writeCmd.Flags().BoolVar(&writeWithoutResponse, "without-response", false, "Use write without response")
	writeCmd.Flags().DurationVarP(&writeTimeout, "timeout", "t", 30*time.Second, "Time allowed to connect, and then to write")
	writeCmd.Flags().Bool("verbose", false, "Enable debug logging")
	_ = writeCmd.MarkFlagRequired("char")
}

func runWrite(cmd *cobra.Command, args []string) error {
	data, err := parseData(args[1], writeHex)
	if err != nil {
		return err
	}

	return withSession(cmd, args[0], writeTimeout, func(ctx context.Context, s *session, p *explorer.PeripheralNode) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		t, err := resolveTarget(p, writeServiceUUID, writeCharUUID, writeDescUUID)
		if err != nil {
			return err
		}

		if t.desc != nil {
			if !t.desc.WriteValue(data) {
				return fmt.Errorf("write to %s refused", t)
			}
			if _, err := s.awaitChange(ctx, t.char, t.desc.UUID()); err != nil {
				return err
			}
		} else {
			withResponse := !writeWithoutResponse
			if withResponse && !t.char.CanWriteWithResponse() {
				return fmt.Errorf("%w: %s does not accept writes with response", ErrNotSupported, t)
			}
			if !withResponse && !t.char.CanWriteWithoutResponse() {
				return fmt.Errorf("%w: %s does not accept writes without response", ErrNotSupported, t)
			}
			if !t.char.WriteValue(data, withResponse) {
				return fmt.Errorf("write to %s refused", t)
			}
			if _, err := s.awaitChange(ctx, t.char, ""); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), t)
		return nil
	})
}
