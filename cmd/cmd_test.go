package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibilla-sim/sibilla/sim/remote"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/sibilla-sim/sibilla/sim/store"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// smallScenario keeps replicas cheap: 100 agents.
func smallScenario() Scenario {
	cfg := defaultScenario()
	cfg.Params = map[string]float64{"s": 95, "a": 5, "g": 0, "r": 0, "d": 0}
	cfg.Deadline = 20
	cfg.Iterations = 6
	cfg.Samplings = 4
	cfg.Measures = []string{"fraction-s", "infected"}
	cfg.Psi = "extinct"
	return cfg
}

func withFormat(t *testing.T, format string) {
	t.Helper()
	old := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = old })
}

func TestLoadScenario_YAMLThenEnv(t *testing.T) {
	// GIVEN a scenario file and an environment override
	path := writeScenario(t, `
model: covid
params: {lambda: 2}
seed: 7
iterations: 12
measures: [fraction-s]
timeout: 30s
`)
	t.Setenv("SIBILLA_SEED", "9")
	t.Setenv("SIBILLA_WORKERS", "a:1,b:2")

	// WHEN loading
	cfg, err := loadScenario(path)

	// THEN defaults < YAML < environment
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 12, cfg.Iterations)
	assert.Equal(t, 100, cfg.Samplings, "default kept")
	assert.Equal(t, map[string]float64{"lambda": 2}, cfg.Params)
	assert.Equal(t, []string{"fraction-s"}, cfg.Measures)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Workers)
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenario(t, "iteratons: 5\n")
	_, err := loadScenario(path)
	assert.Error(t, err, "typos must be errors")

	_, err = loadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	// GIVEN a command with the run flags where only --iterations and --param are set
	c := &cobra.Command{Use: "test"}
	c.Flags().IntVar(&iterations, "iterations", 100, "")
	c.Flags().Int64Var(&seed, "seed", 42, "")
	c.Flags().StringToStringVar(&modelParams, "param", nil, "")
	require.NoError(t, c.Flags().Parse([]string{"--iterations", "3", "--param", "lambda=1.5"}))
	cfg := defaultScenario()
	cfg.Seed = 5

	// WHEN applying
	require.NoError(t, applyFlags(c, &cfg))

	// THEN the unset seed keeps the configured value
	assert.Equal(t, 3, cfg.Iterations)
	assert.Equal(t, int64(5), cfg.Seed)
	assert.Equal(t, 1.5, cfg.Params["lambda"])

	require.NoError(t, c.Flags().Parse([]string{"--param", "lambda=x"}))
	assert.Error(t, applyFlags(c, &cfg))
}

func TestRunTimeSeries_TableAndStore(t *testing.T) {
	withFormat(t, "table")
	cfg := smallScenario()
	cfg.DB = filepath.Join(t.TempDir(), "runs.db")
	var out bytes.Buffer

	require.NoError(t, runTimeSeries(context.Background(), &out, cfg, localExecutor(newCatalog())))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1+cfg.Samplings)
	assert.Contains(t, lines[0], "fraction-s")
	assert.Contains(t, lines[0], "infected")

	s, err := store.Open(context.Background(), cfg.DB)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 6, runs[0].Stats.Completed)
	series, err := s.LoadSeries(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestRunTimeSeries_JSONIsReproducible(t *testing.T) {
	withFormat(t, "json")
	run := func() []*sampling.TimeSeries {
		var out bytes.Buffer
		require.NoError(t, runTimeSeries(context.Background(), &out, smallScenario(), localExecutor(newCatalog())))
		var series []*sampling.TimeSeries
		require.NoError(t, json.Unmarshal(out.Bytes(), &series))
		return series
	}

	first, second := run(), run()

	require.Len(t, first, 2)
	assert.Equal(t, first[0].Means(), second[0].Means())
}

func TestRunReachability_PrintsEstimate(t *testing.T) {
	withFormat(t, "table")
	cfg := smallScenario()
	cfg.Deadline = 1e6
	cfg.DB = filepath.Join(t.TempDir(), "runs.db")
	var out bytes.Buffer

	require.NoError(t, runReachability(context.Background(), &out, cfg, localExecutor(newCatalog())))

	assert.Contains(t, out.String(), "P(true U<=1e+06 extinct)")
	assert.Contains(t, out.String(), "37/37")

	var runs bytes.Buffer
	require.NoError(t, listRuns(context.Background(), &runs, cfg.DB))
	assert.Contains(t, runs.String(), "reachability")
}

func TestRunTrajectory_JSONLines(t *testing.T) {
	withFormat(t, "json")
	cfg := smallScenario()
	var out bytes.Buffer

	require.NoError(t, runTrajectory(context.Background(), &out, cfg, localExecutor(newCatalog())))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	var first remote.TrajectoryPoint
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 0.0, first.Time)
	assert.JSONEq(t, `[95,5,0,0,0]`, string(first.State))
}

func TestRunTimeSeries_UnknownModelFails(t *testing.T) {
	cfg := smallScenario()
	cfg.Model = "nope"
	err := runTimeSeries(context.Background(), &bytes.Buffer{}, cfg, localExecutor(newCatalog()))
	assert.ErrorContains(t, err, "unknown model")
}

func TestSubmit_MatchesWorkerCount(t *testing.T) {
	// GIVEN a worker on a loopback port
	srv := remote.NewServer(newCatalog(), remote.ServerConfig{Name: "w"})
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	withFormat(t, "json")
	cfg := smallScenario()
	cfg.Workers = []string{srv.Addr().String(), srv.Addr().String()}
	cfg.Timeout = 30 * time.Second

	// WHEN a job is submitted to two connections
	dispatcher, closeAll, err := dialWorkers(ctx, cfg)
	require.NoError(t, err)
	defer closeAll()
	var out bytes.Buffer
	require.NoError(t, runTimeSeries(ctx, &out, cfg, dispatchExecutor(dispatcher)))

	// THEN every replica is accounted for in the merged series
	var series []*sampling.TimeSeries
	require.NoError(t, json.Unmarshal(out.Bytes(), &series))
	require.Len(t, series, 2)
	assert.Equal(t, cfg.Iterations, series[0].Points[0].N)
}

func TestPrintModels(t *testing.T) {
	withFormat(t, "table")
	var out bytes.Buffer
	require.NoError(t, printModels(&out, newCatalog().Models()))
	assert.Contains(t, out.String(), "covid")
	assert.Contains(t, out.String(), "extinct,no-deaths,peak-g")
}
