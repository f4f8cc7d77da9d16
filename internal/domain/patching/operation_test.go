package patching

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLifecycle(t *testing.T) {
	t.Parallel()

	op := NewOperation(uuid.New(), uuid.New(), false)
	require.Equal(t, StatusPending, op.Status())
	require.Equal(t, StrategyMulti, op.Strategy())

	_, finished := op.FinishedAt()
	require.False(t, finished)

	require.NoError(t, op.Advance(StatusAnalyzing))
	op.SetPlan(4, StrategyApt)
	assert.Equal(t, 4, op.VulnerabilitiesCount())
	assert.Equal(t, StrategyApt, op.Strategy())

	require.NoError(t, op.Advance(StatusPulling))
	require.NoError(t, op.Advance(StatusBuilding))
	require.NoError(t, op.Advance(StatusPatching))
	op.RecordCounts(3, 1)

	patchedID := uuid.New()
	require.NoError(t, op.Advance(StatusPushing))
	op.SetPatchedImage(patchedID)

	require.NoError(t, op.Advance(StatusVerifying))
	require.NoError(t, op.Advance(StatusCompleted))

	assert.Equal(t, 3, op.PatchedCount())
	assert.Equal(t, 1, op.FailedCount())

	gotID, ok := op.PatchedImageID()
	require.True(t, ok)
	assert.Equal(t, patchedID, gotID)

	finishedAt, ok := op.FinishedAt()
	require.True(t, ok)
	assert.False(t, finishedAt.IsZero())

	assert.Error(t, op.Advance(StatusAnalyzing))
}

func TestOperationFail(t *testing.T) {
	t.Parallel()

	op := NewOperation(uuid.New(), uuid.New(), false)
	require.NoError(t, op.Advance(StatusAnalyzing))
	require.NoError(t, op.Fail("container mount failed"))

	assert.Equal(t, StatusFailed, op.Status())
	assert.Equal(t, "container mount failed", op.ErrorMessage())

	_, ok := op.FinishedAt()
	assert.True(t, ok)

	assert.Error(t, op.Fail("second failure"))
}
