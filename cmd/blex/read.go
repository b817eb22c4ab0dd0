package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blex/internal/explorer"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <peripheral-id>",
	Short: "Read a characteristic or descriptor value",
	Long: fmt.Sprintf(`Reads the value of a characteristic or of one of its descriptors.

Examples:
  # Read Battery Level
  blex read %s --char 2a19

  # Disambiguate by service
  blex read %s --service 180f --char 2a19

  # Read the Client Characteristic Configuration descriptor
  blex read %s --service 180d --char 2a37 --desc 2902

  # Output as hex
  blex read %s --char 2a19 --hex

%s`, examplePeripheralID, examplePeripheralID, examplePeripheralID, examplePeripheralID, peripheralIDNote),
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readServiceUUID string
	readCharUUID    string
	readDescUUID    string
	readHex         bool
	readTimeout     time.Duration
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (needed when the characteristic is not unique)")
	readCmd.Flags().StringVarP(&readCharUUID, "char", "c", "", "Characteristic UUID")
	readCmd.Flags().StringVar(&readDescUUID, "desc", "", "Descriptor UUID")
	readCmd.Flags().BoolVarP(&readHex, "hex", "x", false, "Always print the value as hex")
	readCmd.Flags().DurationVarP(&readTimeout, "timeout", "t", 30*time.Second, "Time allowed to connect, and then to read")
	readCmd.Flags().Bool("verbose", false, "Enable debug logging")
	_ = readCmd.MarkFlagRequired("char")
}

// target is a resolved characteristic with an optional descriptor.
type target struct {
	char *explorer.CharacteristicNode
	desc *explorer.DescriptorNode
}

func (t target) String() string {
	s := t.char.UUID()
	if svc := t.char.Service(); svc != nil {
		s = svc.UUID() + "/" + s
	}
	if t.desc != nil {
		s += "/" + t.desc.UUID()
	}
	return s
}

func resolveTarget(p *explorer.PeripheralNode, service, char, desc string) (target, error) {
	ch, err := findCharacteristic(p, service, char)
	if err != nil {
		return target{}, err
	}
	t := target{char: ch}
	if desc != "" {
		d, ok := ch.Descriptor(desc)
		if !ok {
			return target{}, fmt.Errorf("%w: descriptor %s of characteristic %s", ErrAttributeNotFound, desc, ch.UUID())
		}
		t.desc = d
	}
	return t, nil
}

// withSession opens a session, connects to id, and runs fn on the connected
// peripheral. connectTimeout bounds finding and connecting only.
func withSession(cmd *cobra.Command, id string, connectTimeout time.Duration, fn func(ctx context.Context, s *session, p *explorer.PeripheralNode) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := interruptible(cmd.Context(), cmd.OutOrStdout(), cmd.Name())
	defer cancel()
	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	defer connectCancel()

	s, err := openSession(connectCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.connect(connectCtx, id)
	if err != nil {
		return err
	}
	return fn(ctx, s, p)
}

func runRead(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args[0], readTimeout, func(ctx context.Context, s *session, p *explorer.PeripheralNode) error {
		ctx, cancel := context.WithTimeout(ctx, readTimeout)
		defer cancel()

		t, err := resolveTarget(p, readServiceUUID, readCharUUID, readDescUUID)
		if err != nil {
			return err
		}

		var value []byte
		if t.desc != nil {
			if !t.desc.ReadValue() {
				return fmt.Errorf("read of %s refused", t)
			}
			if _, err := s.awaitChange(ctx, t.char, t.desc.UUID()); err != nil {
				return err
			}
			value = t.desc.Value()
		} else {
			if !t.char.CanRead() {
				return fmt.Errorf("%w: %s is not readable", ErrNotSupported, t)
			}
			if !t.char.ReadValue() {
				return fmt.Errorf("read of %s refused", t)
			}
			if _, err := s.awaitChange(ctx, t.char, ""); err != nil {
				return err
			}
			value = t.char.Value()
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t, formatValue(value, readHex))
		return nil
	})
}
