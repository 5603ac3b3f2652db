package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/config"
)

// quickFlags describe a single-scenario test built from flags.
type quickFlags struct {
	url             string
	method          string
	executor        string
	vus             int
	iterations      int64
	duration        string
	stages          string
	rate            float64
	startRate       float64
	timeUnit        string
	preAllocatedVUs int
	maxVUs          int
	headers         []string
	thresholds      []string
}

const quickScenario = "quick"

// buildQuickConfig turns flags into a test configuration.
func buildQuickConfig(f quickFlags) (*config.TestConfig, error) {
	if f.executor == "" {
		f.executor = "constant-vus"
	}
	if f.vus == 0 && (f.executor == "constant-vus" || f.executor == "per-vu-iterations") {
		f.vus = 10
	}
	if f.duration == "" && f.stages == "" && f.executor != "per-vu-iterations" {
		f.duration = "30s"
	}

	sc := &config.ScenarioConfig{
		Executor:        f.executor,
		VUs:             f.vus,
		Iterations:      f.iterations,
		Duration:        f.duration,
		Rate:            f.rate,
		StartRate:       f.startRate,
		TimeUnit:        f.timeUnit,
		PreAllocatedVUs: f.preAllocatedVUs,
		MaxVUs:          f.maxVUs,
		Request: config.RequestConfig{
			Method: f.method,
			URL:    f.url,
		},
	}

	if f.stages != "" {
		stages, err := parseStages(f.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		sc.Stages = stages
	}

	if len(f.headers) > 0 {
		sc.Request.Headers = make(map[string]string, len(f.headers))
		for _, h := range f.headers {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				return nil, fmt.Errorf("invalid --header %q: expected 'Name: value'", h)
			}
			sc.Request.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	cfg := &config.TestConfig{
		Name:        "Quick Test",
		Description: fmt.Sprintf("%s %s", f.executor, f.url),
		Scenarios:   map[string]*config.ScenarioConfig{quickScenario: sc},
	}

	if len(f.thresholds) > 0 {
		cfg.Thresholds = make(map[string][]string)
		for _, t := range f.thresholds {
			metric, expr, ok := strings.Cut(t, ":")
			if !ok {
				return nil, fmt.Errorf("invalid --threshold %q: expected 'metric:expression'", t)
			}
			metric = strings.TrimSpace(metric)
			cfg.Thresholds[metric] = append(cfg.Thresholds[metric], strings.TrimSpace(expr))
		}
	}
	return cfg, nil
}

// parseStages parses "30s:10,2m:10,30s:0".
func parseStages(s string) ([]config.StageConfig, error) {
	var stages []config.StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, ":")
		if idx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target', got %q", i+1, part)
		}
		d, target := part[:idx], part[idx+1:]
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration %q: %w", i+1, d, err)
		}
		n, err := strconv.Atoi(target)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q: %w", i+1, target, err)
		}
		stages = append(stages, config.StageConfig{
			Duration: d,
			Target:   n,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}
