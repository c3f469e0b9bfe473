package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/explain"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/state"
)

func TestMain(m *testing.M) {
	// The Google API client starts an opencensus worker at package init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, err error) Step {
	return Step{Name: name, Run: func(context.Context) (string, error) {
		r.calls = append(r.calls, name)
		if err != nil {
			return "", err
		}
		return name + " ok", nil
	}}
}

type fakeNotifier struct {
	texts []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return n.err
}

func openState(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRun_AllStagesInOrder(t *testing.T) {
	rec := &recorder{}
	steps := []Step{rec.step(StageExtract, nil), rec.step(StageLoad, nil), rec.step(StageTransform, nil)}

	sum, err := New(steps, nil, nil, nil, zap.NewNop()).Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, []string{StageExtract, StageLoad, StageTransform}, rec.calls)
	assert.Equal(t, StatusSucceeded, sum.Status)
	require.Len(t, sum.Stages, 3)
	assert.Equal(t, "load ok", sum.Stages[1].Detail)
	assert.Empty(t, sum.Failed())
}

func TestRun_NonFatalFailureContinues(t *testing.T) {
	rec := &recorder{}
	steps := []Step{
		rec.step(StageExtract, nil),
		rec.step(StageLoadDetections, errors.New("detection CSV not found")),
		rec.step(StageTransform, nil),
	}

	sum, err := New(steps, nil, nil, nil, zap.NewNop()).Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, []string{StageExtract, StageLoadDetections, StageTransform}, rec.calls)
	assert.Equal(t, StatusFailed, sum.Status)
	assert.Equal(t, []string{StageLoadDetections}, sum.Failed())
	assert.Equal(t, "detection CSV not found", sum.Stages[1].Error)
}

func TestRun_FatalFailureAborts(t *testing.T) {
	rec := &recorder{}
	steps := []Step{
		rec.step(StageTransform, nil),
		rec.step(StageExplain, Fatal(explain.ErrClassIndexOutOfRange)),
		rec.step("after", nil),
	}

	sum, err := New(steps, nil, nil, nil, zap.NewNop()).Run(context.Background(), "manual")
	require.ErrorIs(t, err, explain.ErrClassIndexOutOfRange)

	assert.Equal(t, []string{StageTransform, StageExplain}, rec.calls)
	assert.Equal(t, StatusFailed, sum.Status)
	assert.Len(t, sum.Stages, 2)
}

func TestRun_DisabledStageSkipped(t *testing.T) {
	rec := &recorder{}
	enrich := rec.step(StageEnrich, nil)
	enrich.Disabled = true

	sum, err := New([]Step{rec.step(StageLoad, nil), enrich}, nil, nil, nil, zap.NewNop()).Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, []string{StageLoad}, rec.calls)
	assert.Equal(t, StatusSkipped, sum.Stages[1].Status)
	assert.Equal(t, StatusSucceeded, sum.Status)
}

func TestRun_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	steps := []Step{
		{Name: StageExtract, Run: func(context.Context) (string, error) {
			ran = append(ran, StageExtract)
			cancel()
			return "", nil
		}},
		{Name: StageLoad, Run: func(context.Context) (string, error) {
			ran = append(ran, StageLoad)
			return "", nil
		}},
	}

	sum, err := New(steps, nil, nil, nil, zap.NewNop()).Run(ctx, "schedule")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{StageExtract}, ran)
	assert.Equal(t, StatusFailed, sum.Status)
}

func TestRun_RecordsRunAndNotifies(t *testing.T) {
	st := openState(t)
	notifier := &fakeNotifier{err: errors.New("bot blocked")}
	m, err := metrics.New()
	require.NoError(t, err)

	rec := &recorder{}
	steps := []Step{rec.step(StageExtract, nil), rec.step(StageLoad, errors.New("connection refused"))}

	sum, err := New(steps, st, notifier, m, zap.NewNop()).Run(context.Background(), "schedule")
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)

	runs, err := st.LastRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, state.RunFailed, runs[0].Status)
	assert.Equal(t, "schedule", runs[0].Trigger)

	var stored Summary
	require.NoError(t, json.Unmarshal([]byte(runs[0].Summary), &stored))
	assert.Equal(t, []string{StageLoad}, stored.Failed())

	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "load: failed")
	assert.Contains(t, notifier.texts[0], "connection refused")

	n, err := testutil.GatherAndCount(m.Registry(), "elt_stage_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSummary_Text(t *testing.T) {
	sum := &Summary{
		RunID:   "r1",
		Trigger: "manual",
		Status:  StatusFailed,
		Stages: []StageResult{
			{Name: StageExtract, Status: StatusSucceeded, Detail: "12 messages from 2 channels"},
			{Name: StageEnrich, Status: StatusSkipped},
			{Name: StageTransform, Status: StatusFailed, Error: "exit status 2"},
		},
	}
	want := "Pipeline run r1 (manual): failed in 0s\n" +
		"• extract: succeeded (12 messages from 2 channels)\n" +
		"• enrich: skipped\n" +
		"• transform: failed error: exit status 2"
	assert.Equal(t, want, sum.Text())
}

func newStages(t *testing.T, cfg *config.Config) *Stages {
	t.Helper()
	s, err := NewStages(cfg, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStages_StepsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Explain.Enabled = true

	var names []string
	disabled := map[string]bool{}
	for _, st := range newStages(t, cfg).Steps() {
		names = append(names, st.Name)
		disabled[st.Name] = st.Disabled
	}

	assert.Equal(t, []string{StageExtract, StageLoad, StageEnrich, StageDetect, StageLoadDetections, StageTransform, StageExplain}, names)
	assert.True(t, disabled[StageEnrich])
	assert.False(t, disabled[StageExplain])
}

func TestStages_ExtractWithoutChannels(t *testing.T) {
	cfg := config.Default()
	cfg.Extract.Channels = nil

	_, err := newStages(t, cfg).Extract(context.Background())
	require.Error(t, err)
}

func TestStages_DetectWithoutEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Detect.Endpoint = ""

	_, err := newStages(t, cfg).Detect(context.Background())
	require.Error(t, err)
}

func TestStages_TransformFailureIsNotFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Transform = config.TransformConfig{Command: "sh", Args: []string{"-c", "exit 1"}}

	_, err := newStages(t, cfg).Transform(context.Background())
	require.Error(t, err)
	var fatal *FatalError
	assert.False(t, errors.As(err, &fatal))
}

func TestStages_ExplainClassIndexIsFatal(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "classifier.json")
	table := filepath.Join(dir, "processed_data.csv")
	require.NoError(t, os.WriteFile(model, []byte(`{"features":["a"],"intercepts":[0,0],"coefficients":[[1],[2]],"means":[0]}`), 0o644))
	require.NoError(t, os.WriteFile(table, []byte("a\n1\n"), 0o644))

	idx := 3
	cfg := config.Default()
	cfg.Explain = config.ExplainConfig{
		Enabled:      true,
		ModelPath:    model,
		FeaturesPath: table,
		Features:     []string{"a"},
		ClassIndex:   &idx,
		OutputDir:    filepath.Join(dir, "results"),
	}

	_, err := newStages(t, cfg).Explain(context.Background())
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, explain.ErrClassIndexOutOfRange)
}
