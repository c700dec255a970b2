package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/pactum/internal/app"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/ternarybob/pactum/internal/services/events"
	"github.com/ternarybob/pactum/internal/services/export"
)

// progressInterval bounds how often progress lines are printed per run
const progressInterval = 500 * time.Millisecond

func runProcess(args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	var files configPaths
	fs.Var(&files, "config", "Configuration file path (can be specified multiple times)")
	fs.Var(&files, "c", "Configuration file path (shorthand)")
	runID := fs.String("run-id", "", "Run ID (generated when empty)")
	exportPath := fs.String("export", "", "Write the extracted record to this XLSX file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pactum process [-config file] [-run-id id] [-export out.xlsx] <document>")
	}

	return withApp(files, func(ctx context.Context, application *app.App) error {
		run, err := application.Orchestrator.Process(ctx, *runID, fs.Arg(0))
		if run != nil {
			printRun(run)
		}
		if err != nil {
			return err
		}
		if *exportPath != "" {
			if err := export.WriteXLSX(*exportPath, run.Record); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			fmt.Printf("Exported to %s\n", *exportPath)
		}
		return nil
	})
}

func runRerun(args []string) error {
	fs := flag.NewFlagSet("rerun", flag.ExitOnError)
	var files configPaths
	fs.Var(&files, "config", "Configuration file path (can be specified multiple times)")
	fs.Var(&files, "c", "Configuration file path (shorthand)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pactum rerun [-config file] <run-id>")
	}

	return withApp(files, func(ctx context.Context, application *app.App) error {
		run, err := application.Orchestrator.Rerun(ctx, fs.Arg(0))
		if run != nil {
			printRun(run)
		}
		return err
	})
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var files configPaths
	fs.Var(&files, "config", "Configuration file path (can be specified multiple times)")
	fs.Var(&files, "c", "Configuration file path (shorthand)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pactum status [-config file] <run-id>")
	}

	return withApp(files, func(ctx context.Context, application *app.App) error {
		reporter := application.StatusReporter()
		run, err := reporter.Status(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		printRun(run)

		history, err := reporter.History(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Println("\nHistory:")
		for _, entry := range history {
			fmt.Printf("  %3d  %s  %-21s %-7s %s\n",
				entry.Sequence, entry.Timestamp.Format("15:04:05"), entry.Stage, entry.Status, entry.Message)
		}
		return nil
	})
}

// withApp builds the application, prints throttled progress and cancels on interrupt
func withApp(files configPaths, fn func(ctx context.Context, application *app.App) error) error {
	config, logger, err := loadConfig(files)
	if err != nil {
		return err
	}

	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	throttle := events.NewProgressThrottle(progressInterval, printProgress)
	for _, eventType := range events.RunEventTypes {
		if err := application.EventService.Subscribe(eventType, throttle.Handle); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = fn(ctx, application)
	_ = throttle.Flush(context.Background())
	return err
}

func printProgress(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	fmt.Printf("[%3v%%] %v: %v\n", payload["overall_progress"], payload["stage_name"], payload["message"])
	return nil
}

func printRun(run *models.RunState) {
	fmt.Printf("\nRun:      %s (attempt %d)\n", run.ID, run.Attempt)
	fmt.Printf("Document: %s\n", run.DocumentName)
	fmt.Printf("State:    %s (%d%%)\n", run.State, run.Progress.OverallProgress)
	if run.State == models.StateFailed {
		fmt.Printf("Failed:   %s: %s\n", run.FailedStage, run.ErrorMessage)
	}
	fmt.Printf("Main:     %d/%d chunks\n", run.MainPass.Succeeded, run.MainPass.Total)
	if run.ItemsPass.Total > 0 {
		fmt.Printf("Items:    %d/%d chunks\n", run.ItemsPass.Succeeded, run.ItemsPass.Total)
	}
	if run.Record != nil {
		fmt.Printf("INN:      %s\n", run.Record.NaturalKey())
		fmt.Printf("Contract: %s %s\n", run.Record.ContractNumber, run.Record.ContractDate)
		fmt.Printf("Services: %d\n", len(run.Record.LineItems))
	}
	if run.Link != nil {
		state := "created"
		if run.Link.FoundExisting {
			state = "found"
		}
		fmt.Printf("External: %s (%s)\n", run.Link.ExternalUUID, state)
	}
	if len(run.Warnings) > 0 {
		fmt.Printf("Warnings:\n  - %s\n", strings.Join(run.Warnings, "\n  - "))
	}
}
