package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

func ensureJob(t *testing.T, f *fixture) *EnsureResult {
	t.Helper()
	res, err := f.svc.EnsureReportPack(context.Background(), actor, "wo-1", "", "")
	require.NoError(t, err)
	return res
}

func TestRecordJobStatusHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := ensureJob(t, f)

	j, err := f.svc.RecordJobStatus(ctx, actor, res.Queue.JobID, contracts.JobProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.JobProcessing, j.Status)

	j, err = f.svc.RecordJobStatus(ctx, actor, res.Queue.JobID, contracts.JobCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.JobCompleted, j.Status)

	v, err := f.svc.PackView(ctx, actor, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.PackGenerated, v.Pack.Status)
	assert.Equal(t, contracts.JobCompleted, v.Job.Status)

	j, err = f.svc.RecordJobStatus(ctx, actor, res.Queue.JobID, contracts.JobCompleted, "")
	require.NoError(t, err, "repeating the current status is a no-op")
	assert.Equal(t, contracts.JobCompleted, j.Status)
}

func TestRecordJobStatusRetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := ensureJob(t, f)
	id := res.Queue.JobID

	_, err := f.svc.RecordJobStatus(ctx, actor, id, contracts.JobProcessing, "")
	require.NoError(t, err)
	j, err := f.svc.RecordJobStatus(ctx, actor, id, contracts.JobFailed, "chromium crashed")
	require.NoError(t, err)
	assert.Equal(t, "chromium crashed", j.ErrorMessage)
	v, err := f.svc.PackView(ctx, actor, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.PackFailed, v.Pack.Status)

	j, err = f.svc.RecordJobStatus(ctx, actor, id, contracts.JobQueued, "")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Empty(t, j.ErrorMessage)
	v, err = f.svc.PackView(ctx, actor, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.PackDraft, v.Pack.Status)
}

func TestRecordJobStatusRejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := ensureJob(t, f)

	_, err := f.svc.RecordJobStatus(ctx, actor, res.Queue.JobID, contracts.JobCompleted, "")
	var ce *contracts.ConflictError
	assert.ErrorAs(t, err, &ce, "QUEUED cannot jump to COMPLETED")

	_, err = f.svc.RecordJobStatus(ctx, actor, res.Queue.JobID, "EXPLODED", "")
	var ve *contracts.ValidationError
	assert.ErrorAs(t, err, &ve)

	var nf *contracts.NotFoundError
	_, err = f.svc.RecordJobStatus(ctx, contracts.Actor{ID: "x", TenantID: "t2"}, res.Queue.JobID, contracts.JobProcessing, "")
	assert.ErrorAs(t, err, &nf)
	_, err = f.svc.RecordJobStatus(ctx, actor, "missing", contracts.JobProcessing, "")
	assert.ErrorAs(t, err, &nf)
}
