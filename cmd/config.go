package cmd

import (
	"bytes"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sibilla-sim/sibilla/sim/population"
	"github.com/sibilla-sim/sibilla/sim/remote"
)

// Scenario is one simulation job. Values come from (lowest to highest precedence)
// built-in defaults, a --config YAML file, SIBILLA_* environment variables and
// explicitly set flags.
// All fields must be listed to satisfy KnownFields(true) strict parsing.
type Scenario struct {
	Model       string             `yaml:"model" env:"SIBILLA_MODEL"`
	Params      map[string]float64 `yaml:"params"`
	Seed        int64              `yaml:"seed" env:"SIBILLA_SEED"`
	Deadline    float64            `yaml:"deadline" env:"SIBILLA_DEADLINE"`
	Parallelism int                `yaml:"parallelism" env:"SIBILLA_PARALLELISM"`

	Iterations int      `yaml:"iterations" env:"SIBILLA_ITERATIONS"`
	Samplings  int      `yaml:"samplings" env:"SIBILLA_SAMPLINGS"`
	Measures   []string `yaml:"measures" env:"SIBILLA_MEASURES" envSeparator:","`

	Error   float64 `yaml:"error" env:"SIBILLA_ERROR"`
	Delta   float64 `yaml:"delta" env:"SIBILLA_DELTA"`
	Samples int     `yaml:"samples" env:"SIBILLA_SAMPLES"`
	Phi     string  `yaml:"phi" env:"SIBILLA_PHI"`
	Psi     string  `yaml:"psi" env:"SIBILLA_PSI"`

	Workers []string      `yaml:"workers" env:"SIBILLA_WORKERS" envSeparator:","`
	Timeout time.Duration `yaml:"timeout" env:"SIBILLA_TIMEOUT"`
	DB      string        `yaml:"db" env:"SIBILLA_DB"`
}

func defaultScenario() Scenario {
	return Scenario{
		Model:      population.CovidModelName,
		Seed:       42,
		Deadline:   100,
		Iterations: 100,
		Samplings:  100,
		Error:      0.05,
		Delta:      0.05,
		Timeout:    10 * time.Minute,
	}
}

// loadScenario reads defaults, then the optional YAML file at path, then the environment.
func loadScenario(path string) (Scenario, error) {
	cfg := defaultScenario()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, eris.Wrapf(err, "failed to read scenario %s", path)
		}
		// Strict field checking: typos must cause errors.
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, eris.Wrapf(err, "failed to parse scenario %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse SIBILLA_* environment")
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags the user set on cmd.
func applyFlags(cmd *cobra.Command, cfg *Scenario) error {
	changed := cmd.Flags().Changed
	if changed("model") {
		cfg.Model = modelName
	}
	if changed("param") {
		if cfg.Params == nil {
			cfg.Params = make(map[string]float64, len(modelParams))
		}
		for k, v := range modelParams {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return eris.Wrapf(err, "parameter %s", k)
			}
			cfg.Params[k] = f
		}
	}
	if changed("seed") {
		cfg.Seed = seed
	}
	if changed("deadline") {
		cfg.Deadline = deadline
	}
	if changed("parallelism") {
		cfg.Parallelism = parallelism
	}
	if changed("iterations") {
		cfg.Iterations = iterations
	}
	if changed("samplings") {
		cfg.Samplings = samplings
	}
	if changed("measure") {
		cfg.Measures = measures
	}
	if changed("error") {
		cfg.Error = epsilon
	}
	if changed("delta") {
		cfg.Delta = delta
	}
	if changed("samples") {
		cfg.Samples = samples
	}
	if changed("phi") {
		cfg.Phi = phi
	}
	if changed("psi") {
		cfg.Psi = psi
	}
	if changed("workers") {
		cfg.Workers = workerAddrs
	}
	if changed("timeout") {
		cfg.Timeout = timeout
	}
	if changed("db") {
		cfg.DB = dbPath
	}
	return nil
}

// resolveScenario loads the scenario for cmd and applies its flags.
func resolveScenario(cmd *cobra.Command) (Scenario, error) {
	cfg, err := loadScenario(scenarioPath)
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// request builds the simulation request of the given kind.
func (s Scenario) request(kind remote.Kind) remote.SimulationRequest {
	return remote.SimulationRequest{
		Kind:        kind,
		Model:       s.Model,
		Params:      s.Params,
		Seed:        s.Seed,
		Deadline:    s.Deadline,
		Parallelism: s.Parallelism,
		Iterations:  s.Iterations,
		Samplings:   s.Samplings,
		Measures:    s.Measures,
		Error:       s.Error,
		Delta:       s.Delta,
		Samples:     s.Samples,
		Phi:         s.Phi,
		Psi:         s.Psi,
	}
}
