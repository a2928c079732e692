// Package main provides the duckling CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducklinghq/duckling/cmd/duckling/ui"
)

var (
	// Global flags
	serverURL  string
	outputJSON bool

	client *apiClient
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "duckling",
	Short: "Duckling CLI for document conversion",
	Long: `Duckling CLI converts documents through a running Duckling API server.

Use this tool to:
- Convert documents and download the result in any supported format
- Check the status of running conversions
- Browse recent conversion history

All commands support --json for automation.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = newAPIClient(strings.TrimRight(serverURL, "/"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:5000", "Duckling API server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newConvertCmd creates the convert subcommand.
func newConvertCmd() *cobra.Command {
	var (
		format   string
		output   string
		ocrOff   bool
		settings string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document and download the result",
		Long: `Convert uploads a document to the server, waits for the conversion to
finish, and downloads the result in the chosen format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			inputPath := args[0]

			settingsJSON := settings
			if ocrOff {
				merged, err := mergeOCROff(settingsJSON)
				if err != nil {
					return fmt.Errorf("invalid --settings: %w", err)
				}
				settingsJSON = merged
			}

			started, err := client.Convert(ctx, inputPath, settingsJSON)
			if err != nil {
				return fmt.Errorf("start conversion: %w", err)
			}

			final, err := waitForJob(ctx, started.JobID)
			if err != nil {
				return err
			}

			if final.Status == "failed" {
				if outputJSON {
					return printJSON(final)
				}
				ui.Error("Conversion failed: %s", final.Error)
				os.Exit(1)
			}

			outPath := output
			if outPath == "" {
				stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
				outPath = stem + formatExtension(format)
			}

			if err := client.Download(ctx, started.JobID, format, outPath); err != nil {
				return fmt.Errorf("download result: %w", err)
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"job_id":     started.JobID,
					"status":     final.Status,
					"confidence": final.Confidence,
					"output":     outPath,
				})
			}

			ui.Success("Conversion completed")
			ui.KeyValue("Job ID", started.JobID)
			if final.Confidence != nil {
				ui.KeyValue("Confidence", fmt.Sprintf("%.2f", *final.Confidence))
			}
			ui.KeyValue("Output", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format (markdown, html, json, text, doctags, document_tokens, chunks)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: input name with format extension)")
	cmd.Flags().BoolVar(&ocrOff, "ocr-off", false, "disable OCR for this conversion")
	cmd.Flags().StringVar(&settings, "settings", "", "conversion settings as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall timeout for the conversion")

	return cmd
}

// waitForJob polls the job until it reaches a terminal state, showing a
// spinner while queued and a progress bar once processing starts.
func waitForJob(ctx context.Context, jobID string) (*jobStatus, error) {
	var (
		spin *ui.Spinner
		bar  *ui.ProgressBar
	)
	if !outputJSON {
		spin = ui.NewSpinner("Queued for processing")
		spin.Start()
	}
	stopSpinner := func() {
		if spin != nil {
			spin.Stop()
			spin = nil
		}
	}
	defer stopSpinner()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for job %s", jobID)
		case <-ticker.C:
		}

		status, err := client.Status(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("poll status: %w", err)
		}

		switch status.Status {
		case "pending":
			if spin != nil {
				spin.UpdateMessage(status.Message)
			}
		case "processing":
			stopSpinner()
			if bar == nil && !outputJSON {
				bar = ui.NewProgressBar(100, status.Message)
			}
			if bar != nil {
				bar.Describe(status.Message)
				bar.Set(int64(status.Progress))
			}
		case "completed", "failed":
			stopSpinner()
			if bar != nil {
				bar.Set(100)
				bar.Finish()
			}
			return status, nil
		}
	}
}

// mergeOCROff layers {"ocr":{"enabled":false}} onto the user-provided
// settings JSON.
func mergeOCROff(settingsJSON string) (string, error) {
	m := map[string]interface{}{}
	if settingsJSON != "" {
		if err := json.Unmarshal([]byte(settingsJSON), &m); err != nil {
			return "", err
		}
	}
	ocr, _ := m["ocr"].(map[string]interface{})
	if ocr == nil {
		ocr = map[string]interface{}{}
	}
	ocr["enabled"] = false
	m["ocr"] = ocr

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatExtension(format string) string {
	switch format {
	case "markdown":
		return ".md"
	case "html":
		return ".html"
	case "json":
		return ".json"
	case "text":
		return ".txt"
	case "doctags":
		return ".doctags"
	case "document_tokens":
		return ".tokens.json"
	case "chunks":
		return ".chunks.json"
	default:
		return ".md"
	}
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a conversion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			status, err := client.Status(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(status)
			}

			ui.StatusColor(status.Status).Printf("%s\n", status.Status)
			ui.KeyValue("Job ID", status.JobID)
			ui.KeyValue("Progress", fmt.Sprintf("%d%%", status.Progress))
			ui.KeyValue("Message", status.Message)
			if status.Confidence != nil {
				ui.KeyValue("Confidence", fmt.Sprintf("%.2f", *status.Confidence))
			}
			if len(status.FormatsAvailable) > 0 {
				ui.KeyValue("Formats", strings.Join(status.FormatsAvailable, ", "))
			}
			if status.Error != "" {
				ui.KeyValue("Error", status.Error)
			}
			return nil
		},
	}
}

// newHistoryCmd creates the history subcommand.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversion history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			page, err := client.Recent(ctx, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(page)
			}

			if page.Count == 0 {
				ui.Message("No conversions yet")
				return nil
			}

			for _, entry := range page.Entries {
				ui.StatusColor(entry.Status).Printf("%-10s", entry.Status)
				fmt.Printf(" %s", entry.OriginalFilename)
				if entry.Confidence != nil {
					fmt.Printf(" (conf: %.2f)", *entry.Confidence)
				}
				if entry.ErrorMessage != "" {
					fmt.Printf(" - %s", entry.ErrorMessage)
				}
				fmt.Printf("  [%s]\n", entry.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum entries to show")

	return cmd
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": "0.1.0"})
				return
			}
			fmt.Println("duckling v0.1.0")
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
