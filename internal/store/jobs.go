package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eldtechnologies/observatory/internal/models"
)

// JobTTL is how long service job records are kept.
const JobTTL = 7 * 24 * time.Hour

const jobIndexKey = "jobs:index"

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// SaveJob stores a job record with JobTTL and indexes it by timestamp.
// Index entries older than JobTTL are pruned on each save; a failed prune
// is returned wrapping ErrIndexStale after the job itself is stored.
func SaveJob(ctx context.Context, kv KV, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if err := kv.Set(ctx, jobKey(job.JobID), string(data), JobTTL); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if err := kv.ZAdd(ctx, jobIndexKey, float64(job.TS), job.JobID); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIndexStale, jobIndexKey, err)
	}

	cutoff := job.TS - JobTTL.Milliseconds()
	if _, err := kv.ZRemRangeByScore(ctx, jobIndexKey, "-inf", "("+strconv.FormatInt(cutoff, 10)); err != nil {
		return fmt.Errorf("%w: prune %s: %v", ErrIndexStale, jobIndexKey, err)
	}
	return nil
}

// GetJob returns a stored job, or nil if absent or expired.
func GetJob(ctx context.Context, kv KV, jobID string) (*models.Job, error) {
	data, err := kv.Get(ctx, jobKey(jobID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}
