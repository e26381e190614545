package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/commander/framework"
	runtimesvc "github.com/lexcodex/commander/internal/commander/runtime"
	"github.com/lexcodex/commander/internal/commander/tui"
)

func newRunCmd() *cobra.Command {
	var (
		language string
		panel    bool
		serve    bool
	)
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Run snippets as one script (reads stdin when no file is given)",
		Example: `  echo 'echo hi' | commander run --lang sh
  commander run --lang python part1.py part2.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks, err := readBlocks(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			content := strings.Join(blocks, "\n")
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				if serve {
					stop, err := rt.StartServer(ctx, cfg.ServerAddr)
					if err != nil {
						return err
					}
					defer stopServer(stop)
				}
				if panel {
					return tui.Run(ctx, rt, tui.Job{Language: language, Content: content})
				}
				return runHeadless(ctx, cmd, rt, language, content)
			})
		},
	}
	cmd.Flags().StringVarP(&language, "lang", "l", "", "Language tag of the snippet (e.g. sh, python, js)")
	cmd.Flags().BoolVar(&panel, "tui", false, "Show the interactive output panel")
	cmd.Flags().BoolVar(&serve, "serve", false, "Expose the HTTP API while running")
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}

func newPanelCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "panel [files...]",
		Short: "Open the output panel, optionally running a snippet",
		RunE: func(cmd *cobra.Command, args []string) error {
			job := tui.Job{Language: language}
			if language != "" {
				blocks, err := readBlocks(cmd.InOrStdin(), args)
				if err != nil {
					return err
				}
				job.Content = strings.Join(blocks, "\n")
			}
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				return tui.Run(ctx, rt, job)
			})
		},
	}
	cmd.Flags().StringVarP(&language, "lang", "l", "", "Language tag of the snippet to run")
	return cmd
}

// runHeadless streams script output to stdout and notices to stderr.
func runHeadless(ctx context.Context, cmd *cobra.Command, rt *runtimesvc.Runtime, language, content string) error {
	out := &lineWriter{w: cmd.OutOrStdout()}
	stopEcho := rt.Echo(out)
	defer stopEcho()
	removeNotifier := rt.AddNotifier(framework.NotifierFunc(func(msg string) {
		fmt.Fprintln(cmd.ErrOrStderr(), msg)
	}))
	defer removeNotifier()

	_, err := rt.Run(ctx, language, content)
	out.Finish()
	if err == nil {
		return nil
	}
	if code, ok := framework.ExitCode(err); ok {
		return exitStatus{code: code}
	}
	if errors.Is(err, framework.ErrKilled) {
		return exitStatus{code: 130}
	}
	return err
}

// readBlocks returns each file's content, or stdin when no file is named.
func readBlocks(stdin io.Reader, files []string) ([]string, error) {
	if len(files) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return []string{strings.TrimRight(string(data), "\n")}, nil
	}
	blocks := make([]string, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, strings.TrimRight(string(data), "\n"))
	}
	return blocks, nil
}

func stopServer(stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = stop(ctx)
}
