package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"eventattend/internal/capture"
	"eventattend/internal/capture/webcam"
	"eventattend/internal/location"
	"eventattend/internal/metrics"
	"eventattend/internal/model"
	"eventattend/internal/wizard"
)

var eventID string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register attendance for an event",
	Long: `Runs the two step capture wizard: take a selfie, confirm the location,
then submit. Without --event the active events are listed to choose from.`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringVar(&eventID, "event", "", "Event ID to register for")
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	in := bufio.NewScanner(os.Stdin)
	out := os.Stdout

	gw := newGateway()
	if gw.Token == "" {
		tokens, err := gw.RegisterDevice(ctx, cfg.DeviceID)
		if err != nil {
			return fmt.Errorf("failed to register device %s: %w", cfg.DeviceID, err)
		}
		gw.Token = tokens.AccessToken
		log.Printf("device %s registered", cfg.DeviceID)
	}

	id := eventID
	if id == "" {
		events, err := gw.ListEvents(ctx)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		e, err := chooseEvent(in, out, events)
		if err != nil {
			return err
		}
		id = e.ID
	}

	camera := capture.NewAdapter(webcam.Opener{Width: 1280, Height: 720}, cfg.CameraDevice, capture.WithMaxSide(cfg.PhotoMaxSide))
	locator := location.NewAdapter(locationProvider(cfg.LocationURL, cfg.StaticLat, cfg.StaticLng), cfg.LocationTimeout)
	ctrl := wizard.New(id, camera, locator, gw, wizard.OnTransition(func(from, to wizard.State) {
		metrics.WizardTransitions.WithLabelValues(to.String()).Inc()
	}))
	defer ctrl.Close()

	s := &session{ctrl: ctrl, in: in, out: out, spin: spinner(out)}
	return s.run(ctx)
}

// locationProvider prefers a geolocation endpoint, then fixed coordinates.
// Nil means the host cannot locate itself.
func locationProvider(url string, lat, lng float64) location.Provider {
	switch {
	case url != "":
		return location.NewHTTP(url)
	case lat != 0 || lng != 0:
		return location.Static{Lat: lat, Lng: lng}
	}
	return nil
}

func chooseEvent(in *bufio.Scanner, out io.Writer, events []model.Event) (model.Event, error) {
	if len(events) == 0 {
		return model.Event{}, errors.New("no active events")
	}
	printEvents(out, events)
	for {
		fmt.Fprint(out, "Choose an event number: ")
		if !in.Scan() {
			return model.Event{}, io.EOF
		}
		n, err := strconv.Atoi(strings.TrimSpace(in.Text()))
		if err == nil && n >= 1 && n <= len(events) {
			return events[n-1], nil
		}
		fmt.Fprintf(out, "Enter a number between 1 and %d.\n", len(events))
	}
}

// spinner shows an indeterminate progress bar and returns a func that stops it.
func spinner(out io.Writer) func(desc string) func() {
	return func(desc string) func() {
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWriter(out),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			t := time.NewTicker(100 * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					_ = bar.Add(1)
				}
			}
		}()
		return func() {
			close(stop)
			<-done
			_ = bar.Finish()
		}
	}
}

// session drives the wizard from line commands.
type session struct {
	ctrl *wizard.Controller
	in   *bufio.Scanner
	out  io.Writer
	spin func(desc string) func()
}

const help = `commands: [c]apture  [r]etake  [n]ext  [b]ack  [l]ocate  [s]ubmit  [q]uit`

func (s *session) run(ctx context.Context) error {
	s.report(s.ctrl.Start(ctx))
	for {
		snap := s.ctrl.Snapshot()
		s.render(snap)
		if snap.State == wizard.Done {
			return nil
		}
		fmt.Fprint(s.out, "> ")
		if !s.in.Scan() {
			return s.in.Err()
		}
		switch strings.ToLower(strings.TrimSpace(s.in.Text())) {
		case "c", "capture":
			s.report(s.ctrl.Capture())
		case "r", "retake":
			s.report(s.ctrl.Retake(ctx))
		case "n", "next":
			s.report(s.ctrl.Next())
		case "b", "back":
			s.report(s.ctrl.Back(ctx))
		case "l", "locate":
			stop := s.spin("Locating")
			err := s.ctrl.Locate(ctx)
			stop()
			s.report(err)
		case "s", "submit":
			stop := s.spin("Submitting")
			_, err := s.ctrl.Submit(ctx)
			stop()
			s.report(err)
		case "q", "quit":
			return nil
		case "", "h", "help":
			fmt.Fprintln(s.out, help)
		default:
			fmt.Fprintln(s.out, "unknown command; "+help)
		}
	}
}

// report prints errors that the snapshot does not already show.
func (s *session) report(err error) {
	var n *wizard.Notice
	switch {
	case err == nil, errors.As(err, &n):
	case errors.Is(err, wizard.ErrWrongState):
		fmt.Fprintln(s.out, "That is not available on this step.")
	default:
		fmt.Fprintln(s.out, "Error:", err)
	}
}

func (s *session) render(snap wizard.Snapshot) {
	fmt.Fprintf(s.out, "\n-- Step %d of 2: %s --\n", snap.Step, stepTitle(snap))
	if snap.Step == 1 {
		switch {
		case snap.PhotoTaken:
			fmt.Fprintln(s.out, "Selfie taken.")
		case snap.CameraActive:
			fmt.Fprintln(s.out, "Camera is on. Capture when ready.")
		default:
			fmt.Fprintln(s.out, "Camera is off.")
		}
	} else if snap.Location != nil {
		fmt.Fprintf(s.out, "Location: %.5f, %.5f\n", snap.Location.Lat, snap.Location.Lng)
	} else {
		fmt.Fprintln(s.out, "Location not confirmed yet.")
	}
	if snap.Notice != nil {
		fmt.Fprintf(s.out, "! %s: %s\n", snap.Notice.Title, snap.Notice.Message)
	}
	if snap.Receipt != nil {
		r := snap.Receipt
		fmt.Fprintf(s.out, "Attendance registered for %s (%s) at %s.\n",
			r.Name, r.RegistrationNumber, r.Timestamp.Local().Format("15:04"))
	}
}

func stepTitle(snap wizard.Snapshot) string {
	if snap.Step == 1 {
		return "Take a selfie"
	}
	return "Confirm location"
}
