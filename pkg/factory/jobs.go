package factory

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

var jobTransitions = map[contracts.JobStatus][]contracts.JobStatus{
	contracts.JobPending:    {contracts.JobQueued, contracts.JobCancelled},
	contracts.JobQueued:     {contracts.JobProcessing, contracts.JobCancelled},
	contracts.JobProcessing: {contracts.JobCompleted, contracts.JobFailed},
	contracts.JobFailed:     {contracts.JobQueued},
}

func validJobStatus(s contracts.JobStatus) bool {
	switch s {
	case contracts.JobPending, contracts.JobQueued, contracts.JobProcessing,
		contracts.JobCompleted, contracts.JobFailed, contracts.JobCancelled:
		return true
	}
	return false
}

func canMoveJob(from, to contracts.JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RecordJobStatus applies a status reported by the render worker. Reporting
// the current status again is a no-op.
func (s *Service) RecordJobStatus(ctx context.Context, actor contracts.Actor, jobID string, status contracts.JobStatus, errMsg string) (job *contracts.GenerationJob, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "factory.job_status",
		attribute.String("job_id", jobID), attribute.String("status", string(status)))
	defer func() { done(err) }()

	if !validJobStatus(status) {
		return nil, &contracts.ValidationError{Field: "status", Detail: fmt.Sprintf("unknown job status %q", status)}
	}
	var from contracts.JobStatus
	err = lock.With(ctx, s.locker, lock.Key("job", jobID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			j, err := tx.LockJob(ctx, jobID)
			if err != nil {
				return store.AsNotFound(err, "generation_job", jobID)
			}
			if actor.TenantID != "" && j.TenantID != actor.TenantID {
				return &contracts.NotFoundError{Kind: "generation_job", ID: jobID}
			}
			from = j.Status
			if from == status {
				job = j
				return nil
			}
			if !canMoveJob(from, status) {
				return &contracts.ConflictError{Detail: fmt.Sprintf("job %s cannot move from %s to %s", jobID, from, status)}
			}

			now := s.clock().UTC()
			j.Status = status
			j.UpdatedAt = now
			j.ErrorMessage = ""
			switch status {
			case contracts.JobFailed:
				j.ErrorMessage = errMsg
			case contracts.JobQueued:
				if from == contracts.JobFailed {
					j.Attempts++
				}
			}
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			if ps, ok := packStatusFor(from, status); ok {
				if err := tx.UpdatePackStatus(ctx, j.PackID, ps, now); err != nil {
					return store.AsNotFound(err, "report_pack", j.PackID)
				}
			}
			job = j
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if from != status {
		s.log.InfoContext(ctx, "job status recorded", "job_id", jobID, "from", from, "to", status, "attempts", job.Attempts)
	}
	return job, nil
}

func packStatusFor(from, to contracts.JobStatus) (contracts.PackStatus, bool) {
	switch {
	case to == contracts.JobCompleted:
		return contracts.PackGenerated, true
	case to == contracts.JobFailed:
		return contracts.PackFailed, true
	case to == contracts.JobQueued && from == contracts.JobFailed:
		return contracts.PackDraft, true
	}
	return "", false
}
