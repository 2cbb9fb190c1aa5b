package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventattend/internal/attendance"
	"eventattend/internal/model"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the events open for attendance",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	events, err := newGateway().ListEvents(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	printEvents(os.Stdout, events)
	return nil
}

func printEvents(w io.Writer, events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No active events.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tTITLE\tLOCATION\tWHEN\tATTENDEES")
	for i, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, e.ID, e.Title, e.Location, formatSpan(e.StartTime, e.EndTime), attendance.FormatCount(e.Attendees))
	}
	_ = tw.Flush()
}

func formatSpan(start, end time.Time) string {
	start, end = start.Local(), end.Local()
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return start.Format("Mon Jan 2 15:04") + "-" + end.Format("15:04")
	}
	return start.Format("Mon Jan 2 15:04") + " - " + end.Format("Mon Jan 2 15:04")
}
