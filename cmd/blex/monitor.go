package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blex/internal/groutine"
	"github.com/srg/blex/internal/monitor"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream explorer events over WebSocket",
	Long: `Scans for peripherals and streams every explorer event as JSON to WebSocket
clients connected to /ws. Peripherals listed with --connect are connected as
soon as they are seen, so their discovery and value events are streamed too.

Examples:
  # Listen on the configured address (default :8080)
  blex monitor

  # Listen elsewhere and follow one peripheral
  blex monitor --addr 127.0.0.1:9000 --connect ` + examplePeripheralID,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorAddr     string
	monitorServices []string
	monitorConnect  []string
)

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "", "Listen address; defaults to the configured monitor_addr")
	monitorCmd.Flags().StringSliceVarP(&monitorServices, "services", "s", nil, "Only stage peripherals advertising these service UUIDs")
	monitorCmd.Flags().StringSliceVar(&monitorConnect, "connect", nil, "Connect these peripherals when they are staged")
	monitorCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if monitorAddr != "" {
		cfg.MonitorAddr = monitorAddr
	}
	if cmd.Flags().Changed("services") {
		cfg.Criteria.Services = monitorServices
	}
	if len(monitorConnect) > 0 {
		cfg.Criteria.AllowUnnamed = true
	}
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, cancel := interruptible(cmd.Context(), out, "monitor")
	defer cancel()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	// The hub consumes the session stream from here on.
	hub := monitor.NewHub(s.stream.Events(), monitor.HubOptions{Logger: logger})
	groutine.Go(ctx, "monitor-hub", hub.Run)

	if len(monitorConnect) > 0 {
		groutine.Go(ctx, "monitor-autoconnect", func(ctx context.Context) {
			autoConnect(ctx, s, monitorConnect)
		})
	}

	if err := s.central.StartScanning(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	fmt.Fprintf(out, "Streaming events on ws://%s/ws (Ctrl+C to stop)\n", cfg.MonitorAddr)

	err = hub.Serve(ctx, cfg.MonitorAddr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const autoConnectInterval = 250 * time.Millisecond

// autoConnect connects the listed peripherals whenever they are staged and
// idle, which also reconnects them after a link loss.
func autoConnect(ctx context.Context, s *session, ids []string) {
	ticker := time.NewTicker(autoConnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, id := range ids {
			r, ok := s.central.Record(id)
			if !ok || r.IsConnected() || s.central.IsConnecting(id) {
				continue
			}
			if r.Connect() {
				s.logger.WithField("peripheral", id).Info("Auto-connecting")
			}
		}
	}
}
