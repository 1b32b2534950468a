package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"agentdash/config"
)

const (
	DefaultPollInterval = 3 * time.Second

	// maxPollFailures is how many consecutive retryable failures a poll loop
	// tolerates before giving up.
	maxPollFailures = 5
	maxPollBackoff  = 30 * time.Second
)

func (c *Client) SubmitAsyncJob(ctx context.Context, req AsyncJobRequest) (JobSubmission, error) {
	var sub JobSubmission
	payload, err := c.request(ctx, http.MethodPost, "/v4/analyze/async", req, false)
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal(payload, &sub); err != nil {
		return sub, fmt.Errorf("decode job submission: %w", err)
	}
	if sub.JobID == "" {
		return sub, fmt.Errorf("backend accepted the job but returned no job_id")
	}
	return sub, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (JobStatus, error) {
	var st JobStatus
	if jobID == "" {
		return st, fmt.Errorf("job id is required")
	}
	payload, err := c.request(ctx, http.MethodGet, "/v4/jobs/"+url.PathEscape(jobID), nil, false)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(payload, &st); err != nil {
		return st, fmt.Errorf("decode job status: %w", err)
	}
	return st, nil
}

// PollJobUntilComplete fetches the job status every interval until it is
// completed or failed. onProgress, if set, sees every status fetched,
// including the terminal one. A failed job is returned with a nil error; the
// caller inspects Status and Error. Cancelling ctx stops the loop and returns
// ctx.Err().
func (c *Client) PollJobUntilComplete(ctx context.Context, jobID string, interval time.Duration, onProgress func(JobStatus)) (JobStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	failures := 0
	backoff := interval

	for {
		if err := ctx.Err(); err != nil {
			return JobStatus{}, err
		}

		st, err := c.GetJob(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return JobStatus{}, ctxErr
			}
			failures++
			if !retryablePollError(err) || failures >= maxPollFailures {
				return JobStatus{}, err
			}
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Jobs] poll %s failed (%d/%d): %v", jobID, failures, maxPollFailures, err)
			}
			if err := sleepWithContext(ctx, backoff); err != nil {
				return JobStatus{}, err
			}
			backoff *= 2
			if backoff > maxPollBackoff {
				backoff = maxPollBackoff
			}
			continue
		}
		failures = 0
		backoff = interval

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Jobs] %s status=%s progress=%s", jobID, st.Status, st.Progress.String())
		}
		if onProgress != nil {
			onProgress(st)
		}
		if st.Status.Terminal() {
			return st, nil
		}

		if err := sleepWithContext(ctx, interval); err != nil {
			return st, err
		}
	}
}

func retryablePollError(err error) bool {
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Retryable()
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
