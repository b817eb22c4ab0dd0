package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/monitor"
	"github.com/srg/blex/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE peripherals",
	Long: `Scan for nearby Bluetooth Low Energy peripherals and list the ones that pass
the discovery criteria: name, identity, signal strength, and advertised services.

Unnamed and weak peripherals can be included or dropped with --allow-unnamed and
--min-rssi; the same settings can be kept in the criteria section of --config.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration     time.Duration
	scanFormat       string
	scanServices     []string
	scanAllowUnnamed bool
	scanMinRSSI      int
	scanWatch        bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 until interrupted)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json); defaults to the configured format")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only stage peripherals advertising these service UUIDs")
	scanCmd.Flags().BoolVar(&scanAllowUnnamed, "allow-unnamed", false, "Stage peripherals that advertise no name")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", 0, "Drop advertisements weaker than this RSSI (dBm)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Redraw the list as peripherals are staged")
	scanCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

type scanEntry struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	RSSI             int               `json:"rssi"`
	Connectable      bool              `json:"connectable"`
	TxPower          *int              `json:"tx_power,omitempty"`
	Services         []string          `json:"services,omitempty"`
	ManufacturerData string            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string]string `json:"service_data,omitempty"`
}

// applyScanFlags overrides the configured criteria with the flags the user set.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) error {
	if scanFormat != "" {
		cfg.OutputFormat = scanFormat
	}
	if cmd.Flags().Changed("services") {
		cfg.Criteria.Services = scanServices
	}
	if cmd.Flags().Changed("allow-unnamed") {
		cfg.Criteria.AllowUnnamed = scanAllowUnnamed
	}
	if cmd.Flags().Changed("min-rssi") {
		cfg.Criteria.MinRSSI = scanMinRSSI
	}
	if scanDuration < 0 {
		return fmt.Errorf("invalid duration %s", scanDuration)
	}
	return cfg.Validate()
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := applyScanFlags(cmd, cfg); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, cancel := interruptible(cmd.Context(), out, "scan")
	defer cancel()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if scanDuration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, scanDuration)
		defer timeoutCancel()
	}

	if err := s.central.StartScanning(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	progress := NewCountdownProgressPrinter(out, "Scanning for BLE peripherals", "scanning", scanDuration)
	if !scanWatch {
		progress.Start()
	}

	err = s.await(ctx, func(ev monitor.Event) (bool, error) {
		if scanWatch && ev.Type == monitor.TypeState {
			clearScreen(out)
			_ = displayRecords(out, s.central.Staged(), cfg.OutputFormat)
		}
		return false, nil
	})
	progress.Stop()
	s.central.StopScanning()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if scanWatch {
		clearScreen(out)
	}
	return displayRecords(out, s.central.Staged(), cfg.OutputFormat)
}

func toScanEntry(r *explorer.DiscoveryRecord) scanEntry {
	adv := r.Advertisement()
	e := scanEntry{
		ID:          r.ID(),
		Name:        r.DisplayName(),
		RSSI:        adv.RSSI,
		Connectable: adv.Connectable,
		TxPower:     adv.TxPower,
		Services:    adv.Services,
	}
	if len(adv.ManufacturerData) > 0 {
		e.ManufacturerData = fmt.Sprintf("%x", adv.ManufacturerData)
	}
	if len(adv.ServiceData) > 0 {
		e.ServiceData = make(map[string]string, len(adv.ServiceData))
		for k, v := range adv.ServiceData {
			e.ServiceData[k] = fmt.Sprintf("%x", v)
		}
	}
	return e
}

// displayRecords prints staged records strongest signal first.
func displayRecords(w io.Writer, records []*explorer.DiscoveryRecord, format string) error {
	entries := make([]scanEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, toScanEntry(r))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].ID < entries[j].ID
	})

	if format == config.FormatJSON {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No peripherals discovered")
		return nil
	}

	pal := newPalette(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tRSSI\tCONNECTABLE\tSERVICES")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, e := range entries {
		name := e.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(e.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		connectable := "no"
		if e.Connectable {
			connectable = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\n", pal.peripheral.Sprint(name), e.ID, e.RSSI, connectable, services)
	}
	return tw.Flush()
}
