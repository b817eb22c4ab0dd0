package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/pkg/config"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <peripheral-id>",
	Short: "Connect and print the GATT tree",
	Long: fmt.Sprintf(`Scans until the peripheral is seen, connects, discovers every service,
characteristic, and descriptor, and prints the tree with capability flags.

Examples:
  # Print the tree
  blex inspect %s

  # Read every readable characteristic first
  blex inspect %s --read

  # Machine-readable output
  blex inspect %s --format json

%s`, examplePeripheralID, examplePeripheralID, examplePeripheralID, peripheralIDNote),
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectRead    bool
	inspectFormat  string
	inspectTimeout time.Duration
)

func init() {
	inspectCmd.Flags().BoolVarP(&inspectRead, "read", "r", false, "Read every readable characteristic before printing")
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "", "Output format (table, json); defaults to the configured format")
	inspectCmd.Flags().DurationVarP(&inspectTimeout, "timeout", "t", 30*time.Second, "Time allowed to find, connect, and discover")
	inspectCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

type descriptorView struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name,omitempty"`
	Value   string `json:"value,omitempty"`
	Decoded any    `json:"decoded,omitempty"`
}

type characteristicView struct {
	UUID        string           `json:"uuid"`
	Name        string           `json:"name,omitempty"`
	Properties  []string         `json:"properties"`
	Value       string           `json:"value,omitempty"`
	Error       string           `json:"error,omitempty"`
	Descriptors []descriptorView `json:"descriptors,omitempty"`

	raw []byte
}

type serviceView struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Primary         bool                 `json:"primary"`
	Characteristics []characteristicView `json:"characteristics"`
}

type peripheralView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	RSSI     int           `json:"rssi"`
	Services []serviceView `json:"services"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if inspectFormat != "" {
		cfg.OutputFormat = inspectFormat
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, cancel := interruptible(cmd.Context(), out, "inspect")
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, inspectTimeout)
	defer timeoutCancel()

	progress := NewProgressPrinter(out, "Inspecting "+args[0], "connecting")
	progress.Start()
	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		progress.Stop()
		return err
	}
	defer s.Close()

	p, err := s.connect(ctx, args[0])
	if err != nil {
		progress.Stop()
		return err
	}

	errs := map[*explorer.CharacteristicNode]error{}
	if inspectRead {
		progress.SetPhase("reading")
		errs, err = readAll(ctx, s, p)
		if err != nil {
			progress.Stop()
			return err
		}
	}
	progress.Stop()

	view := buildPeripheralView(p, errs)
	if cfg.OutputFormat == config.FormatJSON {
		return writeJSON(out, view)
	}
	renderTree(out, view)
	return nil
}

// readAll reads every readable characteristic in tree order. Per-characteristic
// failures are collected; a lost link aborts.
func readAll(ctx context.Context, s *session, p *explorer.PeripheralNode) (map[*explorer.CharacteristicNode]error, error) {
	errs := make(map[*explorer.CharacteristicNode]error)
	for _, svc := range p.Services() {
		for _, ch := range svc.Characteristics() {
			if !ch.CanRead() {
				continue
			}
			if !ch.ReadValue() {
				errs[ch] = errors.New("read refused")
				continue
			}
			if _, err := s.awaitChange(ctx, ch, ""); err != nil {
				if errors.Is(err, ErrConnectionLost) || ctx.Err() != nil {
					return nil, err
				}
				errs[ch] = err
			}
		}
	}
	return errs, nil
}

func buildPeripheralView(p *explorer.PeripheralNode, errs map[*explorer.CharacteristicNode]error) peripheralView {
	view := peripheralView{ID: p.ID(), Name: p.Name(), RSSI: p.Record().RSSI()}
	for _, svc := range p.Services() {
		sv := serviceView{UUID: svc.UUID(), Name: svc.Name(), Primary: svc.IsPrimary()}
		for _, ch := range svc.Characteristics() {
			cv := characteristicView{
				UUID:       ch.UUID(),
				Name:       ch.Name(),
				Properties: ch.Properties().Names(),
				raw:        ch.Value(),
			}
			if len(cv.raw) > 0 {
				cv.Value = hex.EncodeToString(cv.raw)
			}
			if err := errs[ch]; err != nil {
				cv.Error = err.Error()
			}
			for _, d := range ch.Descriptors() {
				dv := descriptorView{UUID: d.UUID(), Name: d.Name()}
				if v := d.Value(); len(v) > 0 {
					dv.Value = hex.EncodeToString(v)
				}
				if decoded, err := d.Decoded(); err == nil {
					dv.Decoded = decoded
				}
				cv.Descriptors = append(cv.Descriptors, dv)
			}
			sv.Characteristics = append(sv.Characteristics, cv)
		}
		sort.Slice(sv.Characteristics, func(i, j int) bool { return sv.Characteristics[i].UUID < sv.Characteristics[j].UUID })
		view.Services = append(view.Services, sv)
	}
	// Services and characteristics settle in completion order; print them stably.
	sort.Slice(view.Services, func(i, j int) bool { return view.Services[i].UUID < view.Services[j].UUID })
	return view
}

func label(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}

func renderTree(w io.Writer, view peripheralView) {
	pal := newPalette(w)
	fmt.Fprintf(w, "%s %s  %s\n",
		pal.peripheral.Sprint("Peripheral"), label(view.ID, view.Name), pal.dim.Sprintf("RSSI %d dBm", view.RSSI))
	if len(view.Services) == 0 {
		fmt.Fprintln(w, "  (no services)")
		return
	}
	for _, sv := range view.Services {
		kind := "Service"
		if !sv.Primary {
			kind = "Secondary service"
		}
		fmt.Fprintf(w, "  %s %s\n", pal.service.Sprint(kind), label(sv.UUID, sv.Name))
		for _, cv := range sv.Characteristics {
			fmt.Fprintf(w, "    %s %s  %s\n",
				pal.char.Sprint("Characteristic"), label(cv.UUID, cv.Name), pal.dim.Sprintf("[%s]", strings.Join(cv.Properties, ",")))
			switch {
			case cv.Error != "":
				fmt.Fprintf(w, "      Value: %s\n", pal.err.Sprint("error: "+cv.Error))
			case len(cv.raw) > 0:
				fmt.Fprintf(w, "      Value: %s\n", pal.value.Sprint(formatValue(cv.raw, false)))
			}
			for _, dv := range cv.Descriptors {
				line := fmt.Sprintf("      %s %s", pal.desc.Sprint("Descriptor"), label(dv.UUID, dv.Name))
				if dv.Decoded != nil {
					line += ": " + pal.value.Sprint(formatDecoded(dv.Decoded))
				}
				fmt.Fprintln(w, line)
			}
		}
	}
}

func formatDecoded(v any) string {
	switch d := v.(type) {
	case string:
		return fmt.Sprintf("%q", d)
	case []byte:
		return hexDump(d)
	case explorer.ClientConfig:
		return fmt.Sprintf("notifications=%s indications=%s", onOff(d.Notifications), onOff(d.Indications))
	default:
		return fmt.Sprintf("%+v", d)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
