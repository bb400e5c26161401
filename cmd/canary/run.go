package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/canary/internal/monitor"
)

type batchRunner interface {
	Run(ctx context.Context) (monitor.Report, error)
}

// executeRun runs one batch and prints a row per outcome. Pipeline errors make it fail.
func executeRun(ctx context.Context, out io.Writer, runner batchRunner) error {
	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}

	if len(report.Outcomes) == 0 {
		fmt.Fprintln(out, "No checks due.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tCODE\tLATENCY\tTRANSITION\tERROR")
	for _, o := range report.Outcomes {
		status := string(o.Status)
		errText := o.ProbeError
		switch {
		case o.Skipped:
			status = "SKIPPED"
		case o.Err != nil:
			status = "ERROR"
			errText = o.Err.Error()
		}
		code := "-"
		if o.StatusCode != nil {
			code = strconv.Itoa(*o.StatusCode)
		}
		latency := "-"
		if o.LatencyMs > 0 {
			latency = (time.Duration(o.LatencyMs) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.CheckName,
			status,
			code,
			latency,
			o.Transition,
			errText,
		)
	}
	w.Flush()

	s := report.Summary
	fmt.Fprintf(out, "\nran %d, up %d, down %d, errors %d, skipped %d\n",
		s.Ran, s.Successes, s.Failures, s.Errors, s.Skipped)

	if s.Errors > 0 {
		return fmt.Errorf("%d check pipeline(s) failed", s.Errors)
	}
	return nil
}

// selfTriggerLoop calls runner.Run every interval until ctx is cancelled.
func selfTriggerLoop(ctx context.Context, runner batchRunner, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("self_trigger_started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := runner.Run(ctx); err != nil {
				logger.Error("self_trigger_failed", zap.Error(err))
			}
		}
	}
}
