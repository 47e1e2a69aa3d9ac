package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/ash/internal/availability"
)

func newSlotsCmd() *cobra.Command {
	var (
		start      string
		end        string
		duration   time.Duration
		busy       []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Compute free slots between busy intervals",
		Long: `Compute the free slots of a window given a list of busy intervals.

This runs the availability engine offline, without a calendar.

Example:
  ash slots --start 2025-01-06T09:00:00Z --end 2025-01-06T17:00:00Z \
    --duration 30m --busy 2025-01-06T10:00:00Z/2025-01-06T11:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := availability.ParseInterval(start, end)
			if err != nil {
				return fmt.Errorf("invalid window: %w", err)
			}
			list, err := parseBusy(busy)
			if err != nil {
				return err
			}
			slots, err := availability.ComputeFreeSlots(window.Start, window.End, list, duration)
			if err != nil {
				return err
			}
			return printSlots(cmd.OutOrStdout(), slots, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (RFC 3339)")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Minute, "Minimum slot length")
	cmd.Flags().StringSliceVar(&busy, "busy", nil, "Busy interval as start/end (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print slots as JSON")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

// parseBusy reads "start/end" pairs.
func parseBusy(values []string) (availability.BusyList, error) {
	list := make(availability.BusyList, 0, len(values))
	for i, v := range values {
		s, e, ok := strings.Cut(v, "/")
		if !ok {
			return nil, fmt.Errorf("busy[%d]: expected start/end, got %q", i, v)
		}
		iv, err := availability.ParseInterval(strings.TrimSpace(s), strings.TrimSpace(e))
		if err != nil {
			return nil, fmt.Errorf("busy[%d]: %w", i, err)
		}
		list = append(list, iv)
	}
	return list, nil
}

func printSlots(w io.Writer, slots []availability.FreeSlot, asJSON bool) error {
	if asJSON {
		if slots == nil {
			slots = []availability.FreeSlot{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(slots)
	}
	if len(slots) == 0 {
		fmt.Fprintln(w, "No free slots.")
		return nil
	}
	for _, s := range slots {
		fmt.Fprintf(w, "%s - %s (%s)\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339), s.Duration())
	}
	return nil
}
