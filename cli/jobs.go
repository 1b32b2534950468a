package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agentdash/client"
	"agentdash/report"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect background analysis jobs",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsWaitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Wait for a job to finish and print its report",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWait,
}

var jobsWaitInterval time.Duration

func init() {
	jobsWaitCmd.Flags().DurationVar(&jobsWaitInterval, "interval", 0, "poll interval (default from config)")

	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsWaitCmd)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	st, err := a.client.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printJobStatus(cmd, st)
	return nil
}

func runJobsWait(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	interval := jobsWaitInterval
	if interval <= 0 {
		interval = a.cfg.PollInterval
	}

	pp := &progressPrinter{w: cmd.ErrOrStderr(), start: time.Now()}
	st, err := a.client.PollJobUntilComplete(cmd.Context(), args[0], interval, pp.job)
	if err != nil {
		return err
	}
	if st.Status == client.JobFailed {
		msg := st.Error
		if msg == "" {
			msg = "job failed"
		}
		return &client.AgentError{Message: msg}
	}
	if st.Result == nil {
		fmt.Fprintln(cmd.OutOrStdout(), styleWarning.Render("Job completed without a result."))
		return nil
	}

	md := report.Markdown(*st.Result, report.Meta{
		RepoURL:   st.Result.RepoURL,
		Generated: time.Now(),
	})
	if stdoutIsTerminal() {
		fmt.Fprint(cmd.OutOrStdout(), report.Terminal(md, terminalWidth()))
	} else {
		fmt.Fprint(cmd.OutOrStdout(), md)
	}
	return nil
}

func printJobStatus(cmd *cobra.Command, st client.JobStatus) {
	out := cmd.OutOrStdout()
	status := string(st.Status)
	switch st.Status {
	case client.JobCompleted:
		status = styleSuccess.Render(status)
	case client.JobFailed:
		status = styleError.Render(status)
	default:
		status = styleWarning.Render(status)
	}

	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Job:"), styleValue.Render(st.JobID))
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Status:"), status)
	if p := st.Progress.String(); p != "" {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Progress:"), p)
	}
	for _, row := range [][2]string{
		{"Created:", st.CreatedAt},
		{"Started:", st.StartedAt},
		{"Completed:", st.CompletedAt},
	} {
		if row[1] != "" {
			fmt.Fprintf(out, "%s %s\n", styleLabel.Render(row[0]), row[1])
		}
	}
	if st.Error != "" {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Error:"), styleError.Render(st.Error))
	}
	if st.Result != nil {
		fmt.Fprintf(out, "%s %d findings", styleLabel.Render("Result:"), report.Count(*st.Result))
		if score := st.Result.HealthScoreText(); score != "" {
			fmt.Fprintf(out, ", health score %s/100", score)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, styleHint.Render("Run "+styleCommand.Render("agentdash jobs wait "+st.JobID)+" to print the report."))
	}
}
