package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/monitor"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <peripheral-id>",
	Short: "Print characteristic notifications",
	Long: fmt.Sprintf(`Enables notifications (or indications) on a characteristic and prints
every value received until the duration elapses or Ctrl+C is pressed.

Examples:
  # Follow Heart Rate Measurement
  blex subscribe %s --service 180d --char 2a37

  # Stop after 30 seconds, print hex
  blex subscribe %s --char 2a37 --duration 30s --hex

%s`, examplePeripheralID, examplePeripheralID, peripheralIDNote),
	Args: cobra.ExactArgs(1),
	RunE: runSubscribe,
}

var (
	subscribeServiceUUID string
	subscribeCharUUID    string
	subscribeHex         bool
	subscribeDuration    time.Duration
	subscribeTimeout     time.Duration
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeServiceUUID, "service", "", "Service UUID (needed when the characteristic is not unique)")
	subscribeCmd.Flags().StringVarP(&subscribeCharUUID, "char", "c", "", "Characteristic UUID")
	subscribeCmd.Flags().BoolVarP(&subscribeHex, "hex", "x", false, "Always print values as hex")
	subscribeCmd.Flags().DurationVarP(&subscribeDuration, "duration", "d", 0, "Stop after this long (0 until interrupted)")
	subscribeCmd.Flags().DurationVarP(&subscribeTimeout, "timeout", "t", 30*time.Second, "Time allowed to connect")
	subscribeCmd.Flags().Bool("verbose", false, "Enable debug logging")
	_ = subscribeCmd.MarkFlagRequired("char")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args[0], subscribeTimeout, func(ctx context.Context, s *session, p *explorer.PeripheralNode) error {
		out := cmd.OutOrStdout()
		t, err := resolveTarget(p, subscribeServiceUUID, subscribeCharUUID, "")
		if err != nil {
			return err
		}
		ch := t.char
		if !ch.CanNotify() && !ch.CanIndicate() {
			return fmt.Errorf("%w: %s supports neither notifications nor indications", ErrNotSupported, t)
		}
		if !ch.StartNotifying() {
			return fmt.Errorf("subscribe to %s refused", t)
		}
		defer ch.StopNotifying()

		if subscribeDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, subscribeDuration)
			defer cancel()
		}

		subscribed := false
		svc := ch.Service()
		err = s.await(ctx, func(ev monitor.Event) (bool, error) {
			switch ev.Type {
			case monitor.TypeError:
				return false, ev.Err
			case monitor.TypeDidDisconnect:
				return false, ErrConnectionLost
			case monitor.TypeCharacteristic:
				if ev.Characteristic != ch.UUID() || svc == nil || ev.Service != svc.UUID() {
					return false, nil
				}
				if !subscribed {
					if ev.Notifying {
						subscribed = true
						fmt.Fprintf(out, "Subscribed to %s, waiting for values...\n", t)
					}
					return false, nil
				}
				fmt.Fprintf(out, "%s %s\n", ev.Time.Format("15:04:05.000"), formatValue(ev.Bytes(), subscribeHex))
			}
			return false, nil
		})
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
