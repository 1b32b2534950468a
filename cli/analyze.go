package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentdash/client"
	"agentdash/config"
	appmodel "agentdash/model"
	"agentdash/progress"
	"agentdash/report"
	"agentdash/ui"
)

var (
	analyzeMode           string
	analyzeFocus          string
	analyzeBranch         string
	analyzePathFilter     string
	analyzeMaxVerify      int
	analyzeEvolutionFocus []string
	analyzeAsync          bool
	analyzeNoStream       bool
	analyzeFallback       string
	analyzeOutput         string
	analyzeHTML           string
	analyzeSave           bool
	analyzeTable          bool
	analyzeQuiet          bool
	analyzeTUI            bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repo-url>",
	Short: "Analyze a repository and print the report",
	Long: `Analyze a repository and print the report.

Modes:
  v3        code analysis only
  verified  code analysis with fix verification
  full      security scan, code analysis, evolution and verification (default)

Progress goes to stderr, the report to stdout. A stream that is cut short
keeps its partial results; with --fallback auto the analysis is resubmitted
as a background job instead.`,
	Example: `  agentdash analyze https://github.com/acme/api
  agentdash analyze https://github.com/acme/api --mode verified --max-verify 3
  agentdash analyze https://github.com/acme/api --async --output report.md --html report.html`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeMode, "mode", "m", string(appmodel.ModeFull), "analysis mode: v3, verified or full")
	f.StringVar(&analyzeFocus, "focus", "", "what the analysis should concentrate on")
	f.StringVar(&analyzeBranch, "branch", "", "branch to analyze")
	f.StringVar(&analyzePathFilter, "path-filter", "", "only analyze paths matching this filter (v3)")
	f.IntVar(&analyzeMaxVerify, "max-verify", 0, "cap the number of issues to verify (0 = backend default)")
	f.StringSliceVar(&analyzeEvolutionFocus, "evolution-focus", nil, "evolution areas to consider (full)")
	f.BoolVar(&analyzeAsync, "async", false, "submit a background job and poll it instead of streaming")
	f.BoolVar(&analyzeNoStream, "no-stream", false, "wait for a single response instead of streaming (v3 only)")
	f.StringVar(&analyzeFallback, "fallback", "", "on a cut stream: manual or auto (default from config)")
	f.StringVarP(&analyzeOutput, "output", "o", "", "write the Markdown report to this file")
	f.StringVar(&analyzeHTML, "html", "", "write the HTML report to this file")
	f.BoolVar(&analyzeSave, "save", false, "write the Markdown report to ~/Downloads")
	f.BoolVar(&analyzeTable, "table", false, "print a findings table instead of the full report")
	f.BoolVarP(&analyzeQuiet, "quiet", "q", false, "do not print progress")
	f.BoolVar(&analyzeTUI, "tui", false, "follow the analysis in the dashboard")
}

func analyzeOptions(repoURL string) (appmodel.AnalysisOptions, error) {
	mode, err := appmodel.ParseAnalysisMode(analyzeMode)
	if err != nil {
		return appmodel.AnalysisOptions{}, err
	}
	fallback := strings.ToLower(analyzeFallback)
	if fallback != "" && fallback != config.FallbackManual && fallback != config.FallbackAuto {
		return appmodel.AnalysisOptions{}, fmt.Errorf("--fallback must be %q or %q, got %q", config.FallbackManual, config.FallbackAuto, analyzeFallback)
	}
	opts := appmodel.AnalysisOptions{
		Mode:           mode,
		RepoURL:        strings.TrimSpace(repoURL),
		Focus:          analyzeFocus,
		Branch:         analyzeBranch,
		PathFilter:     analyzePathFilter,
		MaxVerify:      analyzeMaxVerify,
		EvolutionFocus: analyzeEvolutionFocus,
		Async:          analyzeAsync,
		Fallback:       fallback,
	}
	if analyzeNoStream && (mode != appmodel.ModeStandard || analyzeAsync) {
		return opts, errors.New("--no-stream needs --mode v3 and cannot be combined with --async")
	}
	return opts, opts.Validate()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	opts, err := analyzeOptions(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if opts.Fallback == "" {
		opts.Fallback = a.cfg.StreamFallback
	}

	if analyzeTUI {
		return runTUI(cmd, a, ui.Options{Stream: true, Analyze: &opts})
	}

	hooks := appmodel.AnalysisHooks{}
	if !analyzeQuiet {
		pp := &progressPrinter{w: cmd.ErrOrStderr(), start: time.Now()}
		hooks.OnState = pp.state
		hooks.OnJob = pp.job
	}

	var out progress.Outcome
	var runErr error
	if analyzeNoStream {
		out, runErr = analyzeOnce(cmd, a, opts)
	} else {
		out, runErr = appmodel.RunAnalysis(cmd.Context(), a.client, progress.NewReducer(), opts, a.cfg.PollInterval, hooks)
	}
	res := out.Report
	if runErr != nil && res.Empty() {
		return runErr
	}

	md := report.Markdown(res, report.Meta{
		RepoURL:   opts.RepoURL,
		Generated: time.Now(),
		Partial:   !out.State.Done,
	})

	w := cmd.OutOrStdout()
	switch {
	case analyzeTable:
		findings := slices.Concat(res.SecurityFindings, res.CodeIssues)
		if score := res.HealthScoreText(); score != "" {
			fmt.Fprintf(w, "%s %s/100\n\n", styleLabel.Render("Health score:"), score)
		}
		fmt.Fprint(w, report.Table(findings, terminalWidth()))
	case stdoutIsTerminal():
		fmt.Fprint(w, report.Terminal(md, terminalWidth()))
	default:
		fmt.Fprint(w, md)
	}

	if err := writeReports(cmd, opts, md); err != nil {
		return err
	}
	return runErr
}

// analyzeOnce runs a v3 analysis as one blocking request.
func analyzeOnce(cmd *cobra.Command, a *app, opts appmodel.AnalysisOptions) (progress.Outcome, error) {
	if !analyzeQuiet {
		fmt.Fprintln(cmd.ErrOrStderr(), styleHint.Render("Waiting for the analysis to finish..."))
	}
	res, err := a.client.Analyze(cmd.Context(), client.AnalyzeRequest{
		RepoURL:    opts.RepoURL,
		Focus:      opts.Focus,
		Branch:     opts.Branch,
		PathFilter: opts.PathFilter,
	})
	if err != nil {
		return progress.Outcome{}, err
	}
	return progress.Outcome{State: progress.State{Phase: progress.PhaseDone, Done: true}, Report: res}, nil
}

func writeReports(cmd *cobra.Command, opts appmodel.AnalysisOptions, md string) error {
	var targets []string
	if analyzeOutput != "" {
		targets = append(targets, config.ExpandPath(analyzeOutput))
	}
	if analyzeSave {
		targets = append(targets, report.ExportPath(opts.RepoURL, ".md", time.Now()))
	}
	for _, path := range targets {
		if err := report.Write(path, []byte(md)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", styleSuccess.Render("✓ Report saved to"), path)
	}

	if analyzeHTML != "" {
		page, err := report.HTML(md, "Analysis report: "+opts.RepoURL)
		if err != nil {
			return err
		}
		path := config.ExpandPath(analyzeHTML)
		if err := report.Write(path, page); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", styleSuccess.Render("✓ HTML report saved to"), path)
	}
	return nil
}

// progressPrinter writes one line per phase, step or job change.
type progressPrinter struct {
	w        io.Writer
	start    time.Time
	phase    progress.Phase
	step     string
	findings int
	jobLine  string
}

func (p *progressPrinter) elapsed() string {
	return styleHint.Render(fmt.Sprintf("[%5s]", time.Since(p.start).Round(time.Second)))
}

func (p *progressPrinter) state(s progress.State) {
	if s.Phase != "" && s.Phase != p.phase {
		p.phase = s.Phase
		label := styleBrand.Render("▸ " + s.Phase.Label())
		switch s.Phase {
		case progress.PhaseDone:
			label = styleSuccess.Render("✓ " + s.Phase.Label())
		case progress.PhaseError:
			label = styleError.Render("✗ " + s.Phase.Label())
		}
		fmt.Fprintf(p.w, "%s %s\n", p.elapsed(), label)
	}
	if s.Step != "" && s.Step != p.step {
		p.step = s.Step
		fmt.Fprintf(p.w, "%s   %s\n", p.elapsed(), s.Step)
	}
	if n := len(s.SecurityFindings) + len(s.Issues) + len(s.Recommendations); n != p.findings {
		p.findings = n
		fmt.Fprintf(p.w, "%s   %s\n", p.elapsed(), styleHint.Render(fmt.Sprintf(
			"%d security, %d issues, %d recommendations",
			len(s.SecurityFindings), len(s.Issues), len(s.Recommendations))))
	}
}

func (p *progressPrinter) job(js client.JobStatus) {
	line := fmt.Sprintf("job %s: %s", js.JobID, js.Status)
	if pr := js.Progress.String(); pr != "" {
		line += " (" + pr + ")"
	}
	if line == p.jobLine {
		return
	}
	p.jobLine = line
	fmt.Fprintf(p.w, "%s   %s\n", p.elapsed(), styleHint.Render(line))
}
