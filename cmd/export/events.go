package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"clinical-report-be/internal/config"
	"clinical-report-be/pkg/events"
	pktNats "clinical-report-be/pkg/nats"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	eventsType    string
	eventsDurable string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow report events published on NATS",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "only this event type (REPORT_GENERATED, REPORT_FAILED)")
	eventsCmd.Flags().StringVar(&eventsDurable, "durable", "export-cli", "durable consumer name")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if cfg.App.NatsURL == "" {
		return errors.New("NATS_URL is not set")
	}

	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		return err
	}
	defer sub.Close()

	subject := pktNats.SubjectPrefix + ".>"
	if eventsType != "" {
		subject = pktNats.Subject(eventsType)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return sub.Subscribe(ctx, subject, eventsDurable, func(_ context.Context, event events.Event) error {
		printEvent(out, event)
		return nil
	})
}

func printEvent(w io.Writer, event events.Event) {
	p := event.Payload()
	line := fmt.Sprintf("%-16s %-22v project=%v user=%v", event.EventType(), p["report"], p["project_id"], p["user_id"])
	switch event.EventType() {
	case events.TypeReportGenerated:
		line += fmt.Sprintf(" file=%v duration=%vms", p["filename"], p["duration_ms"])
	case events.TypeReportFailed:
		line += fmt.Sprintf(" error=%q", p["error"])
	}
	fmt.Fprintf(w, "%s (%s)\n", line, humanize.Time(event.Timestamp()))
}
