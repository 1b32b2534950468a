package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentdash/client"
	"agentdash/config"
	"agentdash/progress"
)

// AnalysisMode selects the backend pipeline.
type AnalysisMode string

const (
	ModeStandard AnalysisMode = "v3"
	ModeVerified AnalysisMode = "verified"
	ModeFull     AnalysisMode = "full"
)

func ParseAnalysisMode(s string) (AnalysisMode, error) {
	switch m := AnalysisMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStandard, ModeVerified, ModeFull:
		return m, nil
	case "":
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unknown analysis mode %q (want v3, verified or full)", s)
	}
}

type AnalysisOptions struct {
	Mode           AnalysisMode
	RepoURL        string
	Focus          string
	Branch         string
	PathFilter     string
	MaxVerify      int
	EvolutionFocus []string
	// Async submits a background job and polls it instead of streaming.
	Async bool
	// Fallback is config.FallbackManual or config.FallbackAuto.
	Fallback string
}

func (o AnalysisOptions) Validate() error {
	if strings.TrimSpace(o.RepoURL) == "" {
		return errors.New("repository URL is required")
	}
	if o.MaxVerify < 0 {
		return errors.New("max-verify cannot be negative")
	}
	return nil
}

// AnalysisHooks receive progress while an analysis runs. Both are optional.
type AnalysisHooks struct {
	OnState func(progress.State)
	OnJob   func(client.JobStatus)
}

// AnalysisRunner is the part of *client.Client an analysis needs.
type AnalysisRunner interface {
	StreamAnalyze(ctx context.Context, req client.AnalyzeRequest) (*client.EventStream, error)
	StreamVerifiedAnalyze(ctx context.Context, req client.VerifiedAnalyzeRequest) (*client.EventStream, error)
	StreamFullAnalysis(ctx context.Context, req client.FullAnalysisRequest) (*client.EventStream, error)
	SubmitAsyncJob(ctx context.Context, req client.AsyncJobRequest) (client.JobSubmission, error)
	PollJobUntilComplete(ctx context.Context, jobID string, interval time.Duration, onProgress func(client.JobStatus)) (client.JobStatus, error)
}

// RunAnalysis runs one repository analysis into r, which is reset first. On a
// stream that is cut before done, and with the auto fallback policy, the same
// analysis is resubmitted as an async job.
func RunAnalysis(ctx context.Context, runner AnalysisRunner, r *progress.Reducer, opts AnalysisOptions, pollInterval time.Duration, hooks AnalysisHooks) (progress.Outcome, error) {
	if err := opts.Validate(); err != nil {
		return progress.Outcome{}, err
	}

	r.Reset()
	if hooks.OnState != nil {
		cancel := r.Subscribe(hooks.OnState)
		defer cancel()
	}

	if opts.Async {
		return runAsync(ctx, runner, r, opts, pollInterval, hooks)
	}

	stream, err := openAnalysisStream(ctx, runner, opts)
	if err != nil {
		return progress.Outcome{}, err
	}
	out, err := r.Run(stream)

	var aborted *client.StreamAbortedError
	if errors.As(err, &aborted) && opts.Fallback == config.FallbackAuto && ctx.Err() == nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Analysis] stream aborted (%v), falling back to async job", err)
		}
		partial := out
		asyncOut, asyncErr := runAsync(ctx, runner, r, opts, pollInterval, hooks)
		if asyncErr != nil && !asyncOut.State.Done {
			// Keep whatever the stream gathered
			return partial, fmt.Errorf("async fallback failed: %w (stream: %v)", asyncErr, err)
		}
		return asyncOut, asyncErr
	}
	return out, err
}

func openAnalysisStream(ctx context.Context, runner AnalysisRunner, opts AnalysisOptions) (*client.EventStream, error) {
	switch opts.Mode {
	case ModeStandard:
		return runner.StreamAnalyze(ctx, client.AnalyzeRequest{
			RepoURL:    opts.RepoURL,
			Focus:      opts.Focus,
			Branch:     opts.Branch,
			PathFilter: opts.PathFilter,
		})
	case ModeVerified:
		return runner.StreamVerifiedAnalyze(ctx, client.VerifiedAnalyzeRequest{
			RepoURL:           opts.RepoURL,
			Focus:             opts.Focus,
			Branch:            opts.Branch,
			Verify:            true,
			MaxIssuesToVerify: opts.MaxVerify,
		})
	default:
		return runner.StreamFullAnalysis(ctx, client.FullAnalysisRequest{
			RepoURL:              opts.RepoURL,
			RunSecurityScan:      true,
			RunCodeAnalysis:      true,
			RunEvolutionAnalysis: true,
			EvolutionFocus:       opts.EvolutionFocus,
			MaxIssuesToVerify:    opts.MaxVerify,
		})
	}
}

// runAsync submits a job, polls it, and folds the final status into r so the
// outcome has the same shape as a streamed one.
func runAsync(ctx context.Context, runner AnalysisRunner, r *progress.Reducer, opts AnalysisOptions, pollInterval time.Duration, hooks AnalysisHooks) (progress.Outcome, error) {
	sub, err := runner.SubmitAsyncJob(ctx, client.AsyncJobRequest{
		RepoURL: opts.RepoURL,
		Focus:   opts.Focus,
		Verify:  opts.Mode != ModeStandard,
		Branch:  opts.Branch,
	})
	if err != nil {
		return progress.Outcome{}, err
	}

	r.Reset()
	r.Apply(&client.StartEvent{Message: fmt.Sprintf("Job %s submitted", sub.JobID)})

	st, err := runner.PollJobUntilComplete(ctx, sub.JobID, pollInterval, func(js client.JobStatus) {
		if js.Progress != nil {
			r.Apply(&client.ThinkingEvent{Phase: js.Progress.Phase, Message: js.Progress.String()})
		} else {
			r.Apply(&client.CheckpointEvent{Message: string(js.Status)})
		}
		if hooks.OnJob != nil {
			hooks.OnJob(js)
		}
	})
	if err != nil {
		out, _ := r.Finalize(err)
		return out, err
	}

	switch st.Status {
	case client.JobFailed:
		msg := st.Error
		if msg == "" {
			msg = "job failed"
		}
		r.Apply(&client.ErrorEvent{Message: msg})
	default:
		done := &client.DoneEvent{Result: st.Result}
		if st.Result != nil {
			done.Message = st.Result.ExecutiveSummary
		}
		r.Apply(done)
	}
	return r.Finalize(nil)
}
