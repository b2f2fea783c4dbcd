package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/store"
	"github.com/isdmx/codeloop/workflow"
)

func readCode(arg string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if arg == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	return string(data), nil
}

func newExecCommand(opts *rootOptions) *cobra.Command {
	var outputs string

	cmd := &cobra.Command{
		Use:   "exec <file.py|->",
		Short: "Run a Python file in the sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			vars, err := loadVars(opts.varsFile)
			if err != nil {
				return err
			}

			var executor sandbox.Executor
			stop, err := startApp(cmd.Context(), opts, fx.Options(), &executor)
			if err != nil {
				return err
			}
			defer stop()

			result, err := executor.Execute(cmd.Context(), sandbox.ExecuteRequest{
				Code:             code,
				Variables:        vars,
				CollectArtifacts: outputs != "",
			})
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
			fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)

			if outputs != "" && len(result.ArtifactsTar) > 0 {
				if err := sandbox.ExtractTarToDir(sandbox.RealFileSystem{}, result.ArtifactsTar, outputs); err != nil {
					return fmt.Errorf("failed to extract outputs: %w", err)
				}
			}
			if !result.Success() {
				return fmt.Errorf("exit status %d", result.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outputs, "outputs", "", "Directory to receive files the program writes")
	return cmd
}

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <request>",
		Short: "Generate, run and correct code for a natural-language request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := loadVars(opts.varsFile)
			if err != nil {
				return err
			}

			observer := &progress{w: cmd.ErrOrStderr()}
			var orch *workflow.Orchestrator
			stop, err := startApp(cmd.Context(), opts, fx.Provide(func() workflow.Observer { return observer }), &orch)
			if err != nil {
				return err
			}
			defer stop()

			outcome, runErr := orch.Run(cmd.Context(), oracle.CodeGenerationRequest{
				RequestText: strings.Join(args, " "),
				Variables:   vars,
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(outcome); err != nil {
					return err
				}
			} else {
				printOutcome(out, outcome)
			}
			if runErr != nil {
				return runErr
			}
			if outcome.State != workflow.StateSucceeded {
				return fmt.Errorf("run ended in %s after %d attempts", outcome.State, outcome.Attempts)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	return cmd
}

func printOutcome(w io.Writer, outcome *workflow.Outcome) {
	fmt.Fprintf(w, "State: %s (%d attempts)\n\n", outcome.State, outcome.Attempts)
	fmt.Fprintf(w, "```python\n%s\n```\n\n", strings.TrimRight(outcome.Code, "\n"))
	if outcome.Execution.Stdout != "" {
		fmt.Fprintf(w, "%s\n", strings.TrimRight(outcome.Execution.Stdout, "\n"))
	}
	if !outcome.Assessment.Success && outcome.Assessment.Analysis != "" {
		fmt.Fprintf(w, "\nAnalysis: %s\n", outcome.Assessment.Analysis)
	}
}

func newImageCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage the runner image",
	}

	var dockerfile string
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Build the runner image if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var runtime *sandbox.Runtime
			stop, err := startApp(cmd.Context(), opts, fx.Options(), &runtime)
			if err != nil {
				return err
			}
			defer stop()

			if err := runtime.EnsureImage(cmd.Context(), runtime.Image(), dockerfile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "image %s is ready\n", runtime.Image())
			return nil
		},
	}
	ensure.Flags().StringVar(&dockerfile, "dockerfile", "", "Dockerfile to build from")

	cmd.AddCommand(ensure)
	return cmd
}

func newUsageCommand(opts *rootOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show oracle usage against the configured ceilings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				budget oracle.Budget
				st     *store.SQLite
			)
			stop, err := startApp(cmd.Context(), opts, fx.Options(), &budget, &st)
			if err != nil {
				return err
			}
			defer stop()

			if reset {
				if st == nil {
					return fmt.Errorf("usage is not persisted, nothing to reset")
				}
				if err := st.Reset(); err != nil {
					return err
				}
			}

			u := budget.Usage()
			fmt.Fprintf(cmd.OutOrStdout(), "calls:  %d / %d\ntokens: %d / %d\n", u.Calls, u.MaxCalls, u.Tokens, u.MaxTokens)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Zero the persisted counters")
	return cmd
}

func newRunsCommand(opts *rootOptions) *cobra.Command {
	var (
		limit int
		state string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st *store.SQLite
			stop, err := startApp(cmd.Context(), opts, fx.Options(), &st)
			if err != nil {
				return err
			}
			defer stop()

			if st == nil {
				return fmt.Errorf("store.path is not configured")
			}
			runs, err := st.Runs(cmd.Context(), limit, strings.ToUpper(state))
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs to show")
	cmd.Flags().StringVar(&state, "state", "", "Only runs that ended in this state")
	return cmd
}

func printRuns(w io.Writer, runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATE\tATTEMPTS\tEXIT\tREQUEST")
	for _, r := range runs {
		request := strings.ReplaceAll(r.Request, "\n", " ")
		if len(request) > 60 {
			request = request[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.State, r.Attempts, r.ExitCode, request)
	}
	_ = tw.Flush()
}

// progress reports loop progress on the terminal.
type progress struct {
	w io.Writer
}

func (p *progress) Generated(result oracle.CodeGenerationResult) {
	if result.Explanation != "" {
		fmt.Fprintf(p.w, "%s\n\n", result.Explanation)
	}
}

func (p *progress) Executed(attempt int, code string, result sandbox.ExecutionResult) {
	fmt.Fprintf(p.w, "--- attempt %d ---\n```python\n%s\n```\n", attempt, strings.TrimRight(code, "\n"))
	stdout := result.Stdout
	if len(stdout) > 1000 {
		stdout = stdout[:1000] + "\n... (output truncated)"
	}
	if stdout != "" {
		fmt.Fprintf(p.w, "%s\n", strings.TrimRight(stdout, "\n"))
	}
	if !result.Success() {
		fmt.Fprintf(p.w, "exit %d\n%s\n", result.ExitCode, strings.TrimRight(result.Stderr, "\n"))
	}
}

func (p *progress) Assessed(attempt int, assessment oracle.CodeAssessmentResult) {
	if assessment.Success {
		fmt.Fprintf(p.w, "attempt %d accepted\n\n", attempt)
		return
	}
	fmt.Fprintf(p.w, "attempt %d rejected: %s\n\n", attempt, assessment.Analysis)
}
