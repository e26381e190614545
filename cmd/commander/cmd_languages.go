package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/commander/framework"
	runtimesvc "github.com/lexcodex/commander/internal/commander/runtime"
	"github.com/lexcodex/commander/persistence"
)

// newLanguagesCmd lists the language table in resolution order.
func newLanguagesCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "languages [pattern]",
		Short: "List supported language tags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := framework.LoadSettings(cfg.SettingsPath)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			langs := settings.Languages
			if len(args) == 1 {
				if langs, err = selectLanguage(langs, args[0]); err != nil {
					return err
				}
			}
			return printLanguages(cmd.OutOrStdout(), langs, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Report whether each interpreter is on PATH")
	return cmd
}

// selectLanguage narrows the table to the entry registered under pattern.
func selectLanguage(langs framework.Languages, pattern string) (framework.Languages, error) {
	spec, ok := langs.Lookup(pattern)
	if !ok {
		return nil, fmt.Errorf("no language registered under %q", pattern)
	}
	return framework.Languages{{Pattern: pattern, Spec: spec}}, nil
}

func printLanguages(w io.Writer, langs framework.Languages, check bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if check {
		fmt.Fprintln(tw, "PATTERN\tEXECUTABLE\tSTATUS")
	} else {
		fmt.Fprintln(tw, "PATTERN\tEXECUTABLE")
	}
	for _, entry := range langs {
		if check {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Pattern, entry.Spec.Executable, interpreterStatus(entry.Spec))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", entry.Pattern, entry.Spec.Executable)
	}
	return tw.Flush()
}

// interpreterStatus resolves the first word of the executable template.
func interpreterStatus(spec framework.LanguageSpec) string {
	args := framework.Tokenize(spec.Executable)
	if len(args) == 0 {
		return "invalid"
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return "missing"
	}
	return "ok"
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
		id     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				if id != "" {
					record, ok, err := rt.Record(ctx, id)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("run %s not found", id)
					}
					return printRecord(cmd.OutOrStdout(), *record, asJSON)
				}
				records, err := rt.History(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if records == nil {
						records = []persistence.RunRecord{}
					}
					return enc.Encode(records)
				}
				return printHistory(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	cmd.Flags().StringVar(&id, "id", "", "Show a single run including its script")
	return cmd
}

func printHistory(w io.Writer, records []persistence.RunRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tLANGUAGE\tSTATUS\tEXIT\tDURATION\tDETAIL")
	for _, record := range records {
		detail := record.Error
		if detail == "" {
			detail = firstLine(record.Content)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			record.StartedAt.Local().Format("2006-01-02 15:04:05"),
			record.Language,
			record.Status,
			record.ExitCode,
			record.Duration().Round(time.Millisecond),
			detail,
		)
	}
	return tw.Flush()
}

// printRecord shows one run with its full script body.
func printRecord(w io.Writer, record persistence.RunRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}
	fmt.Fprintf(w, "id:       %s\n", record.ID)
	fmt.Fprintf(w, "language: %s\n", record.Language)
	fmt.Fprintf(w, "status:   %s\n", record.Status)
	fmt.Fprintf(w, "exit:     %d\n", record.ExitCode)
	fmt.Fprintf(w, "started:  %s\n", record.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "duration: %s\n", record.Duration().Round(time.Millisecond))
	if record.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", record.Error)
	}
	_, err := fmt.Fprintf(w, "\n%s\n", record.Content)
	return err
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}
