package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JobSpec describes one scheduled job. Task selects the implementation;
// the remaining fields parameterize it.
type JobSpec struct {
	Name            string `yaml:"name"`
	Task            string `yaml:"task"` // "analyze-unanalyzed" | "analyze-outdated" | "embed-pending"
	IntervalMinutes int    `yaml:"interval_minutes"`
	Limit           int    `yaml:"limit"`
	DaysThreshold   int    `yaml:"days_threshold"` // analyze-outdated only
}

type jobsFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// DefaultJobs is the built-in schedule used when no jobs file is configured.
func DefaultJobs() []JobSpec {
	return []JobSpec{
		{Name: "analyze-unanalyzed", Task: "analyze-unanalyzed", IntervalMinutes: 60, Limit: 20},
		{Name: "analyze-outdated", Task: "analyze-outdated", IntervalMinutes: 360, Limit: 10, DaysThreshold: 30},
		{Name: "embed-pending", Task: "embed-pending", IntervalMinutes: 30, Limit: 100},
	}
}

// LoadJobs returns the job schedule: the YAML file at path when given,
// otherwise the defaults.
func LoadJobs(path string) ([]JobSpec, error) {
	if path == "" {
		return DefaultJobs(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read jobs file: %w", err)
	}

	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse jobs file: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("config: jobs file %s defines no jobs", path)
	}

	for i, j := range f.Jobs {
		if j.Name == "" || j.Task == "" {
			return nil, fmt.Errorf("config: job %d missing name or task", i)
		}
		if j.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("config: job %q has no interval", j.Name)
		}
	}

	return f.Jobs, nil
}
