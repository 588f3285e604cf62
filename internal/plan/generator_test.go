package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/harvest"
)

func testInput(t *testing.T, start, end string, endpoints []string, modalities []int) Input {
	t.Helper()
	in, err := ParseInput(start, end, endpoints, modalities, "test", "v1", harvest.NewCatalog(harvest.DefaultEndpoints()))
	require.NoError(t, err)
	return in
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()

	in := testInput(t, "2024-01-01", "2024-01-03", []string{"contratacoes-publicacao", "atas"}, []int{8, 6})
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	first, err := Build(in, now)
	require.NoError(t, err)
	second, err := Build(in, now.Add(time.Hour))
	require.NoError(t, err)

	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, first.Tasks, len(second.Tasks))
	for i := range first.Tasks {
		require.Equal(t, first.Tasks[i].ID, second.Tasks[i].ID)
	}

	// Input order does not matter: the canonical form is sorted.
	shuffled := testInput(t, "2024-01-01", "2024-01-03", []string{"atas", "contratacoes-publicacao"}, []int{6, 8})
	third, err := Build(shuffled, now)
	require.NoError(t, err)
	require.Equal(t, first.Fingerprint, third.Fingerprint)
}

func TestBuildCrossProduct(t *testing.T) {
	t.Parallel()

	// Modality-aware endpoint: one task per (date, modality). The atas
	// endpoint ignores the modality dimension: one task per date.
	in := testInput(t, "2024-01-01", "2024-01-02", []string{"contratacoes-publicacao", "atas"}, []int{6, 8})
	p, err := Build(in, time.Now().UTC())
	require.NoError(t, err)

	// 2 dates x 2 modalities + 2 dates = 6 tasks.
	require.Len(t, p.Tasks, 6)
	require.Equal(t, 6, p.Metadata.TaskCount)

	seen := map[string]bool{}
	for _, task := range p.Tasks {
		require.False(t, seen[task.ID], "task ids must be unique")
		seen[task.ID] = true
		require.Equal(t, p.Fingerprint, task.PlanFingerprint)
	}
}

func TestBuildSingleEndpointTwoDates(t *testing.T) {
	t.Parallel()

	in := testInput(t, "2024-01-01", "2024-01-02", []string{"atas"}, nil)
	p, err := Build(in, time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, p.Tasks, 2)
	require.NotEqual(t, p.Tasks[0].ID, p.Tasks[1].ID)
	require.Equal(t, p.Tasks[0].PlanFingerprint, p.Tasks[1].PlanFingerprint)
}

func TestBuildRejectsBadInputs(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	inverted := testInput(t, "2024-01-02", "2024-01-01", []string{"atas"}, nil)
	_, err := Build(inverted, now)
	require.ErrorIs(t, err, harvest.ErrInvalidConfiguration)

	empty := testInput(t, "2024-01-01", "2024-01-02", nil, nil)
	_, err = Build(empty, now)
	require.ErrorIs(t, err, harvest.ErrInvalidConfiguration)

	unknown := testInput(t, "2024-01-01", "2024-01-02", []string{"nope"}, nil)
	_, err = Build(unknown, now)
	require.ErrorIs(t, err, harvest.ErrInvalidConfiguration)

	_, err = ParseInput("01/01/2024", "2024-01-02", []string{"atas"}, nil, "test", "v1", nil)
	require.ErrorIs(t, err, harvest.ErrInvalidConfiguration)
}

type fakeTaskStore struct {
	upserts map[string]int
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{upserts: map[string]int{}}
}

func (s *fakeTaskStore) UpsertTask(_ context.Context, task harvest.Task) error {
	s.upserts[task.ID]++
	return nil
}

func (s *fakeTaskStore) GetTask(_ context.Context, taskID string) (harvest.Task, error) {
	if _, ok := s.upserts[taskID]; !ok {
		return harvest.Task{}, harvest.ErrNotFound
	}
	return harvest.Task{ID: taskID}, nil
}

type fakePlanStore struct {
	plans []harvest.PlanMetadata
}

func (s *fakePlanStore) RecordPlan(_ context.Context, meta harvest.PlanMetadata) error {
	s.plans = append(s.plans, meta)
	return nil
}

func (s *fakePlanStore) LatestPlan(_ context.Context) (harvest.PlanMetadata, error) {
	if len(s.plans) == 0 {
		return harvest.PlanMetadata{}, harvest.ErrNotFound
	}
	return s.plans[len(s.plans)-1], nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestSyncIdempotentRegeneration(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore()
	plans := &fakePlanStore{}
	gen := NewGenerator(tasks, plans, fixedClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())

	in := testInput(t, "2024-01-01", "2024-01-02", []string{"atas"}, nil)

	first, err := gen.Sync(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, plans.plans, 1)

	second, err := gen.Sync(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, plans.plans, 1, "unchanged plan must not append metadata")

	// Tasks were upserted twice but identity is stable, so the universe
	// holds exactly the original IDs.
	require.Len(t, tasks.upserts, 2)
	for _, n := range tasks.upserts {
		require.Equal(t, 2, n)
	}
}

func TestSyncRecordsDrift(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore()
	plans := &fakePlanStore{}
	gen := NewGenerator(tasks, plans, fixedClock{now: time.Now().UTC()}, zap.NewNop())

	in := testInput(t, "2024-01-01", "2024-01-02", []string{"atas"}, nil)
	_, err := gen.Sync(context.Background(), in)
	require.NoError(t, err)

	widened := testInput(t, "2024-01-01", "2024-01-03", []string{"atas"}, nil)
	p, err := gen.Sync(context.Background(), widened)
	require.NoError(t, err)

	require.Len(t, plans.plans, 2, "drift appends a new metadata row")
	require.NotEqual(t, plans.plans[0].Fingerprint, plans.plans[1].Fingerprint)
	require.Equal(t, p.Fingerprint, plans.plans[1].Fingerprint)
	// Old tasks remain untouched in the store alongside the new universe.
	require.Len(t, tasks.upserts, 5)
}
