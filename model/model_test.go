package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validSpec() JobSpec {
	return JobSpec{
		JobID:    "job-001",
		TaskType: TaskClassification,
		Scorer:   "accuracy",
		Resources: ResourceSpec{
			CPU:    2.0,
			Memory: "4Gi",
			GPU:    0,
		},
		Container: ContainerSpec{Image: "python:3.12"},
	}
}

func TestJobSpec_Normalize(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*JobSpec)
		expectErr bool
	}{
		{"valid spec passes", func(s *JobSpec) {}, false},
		{"zero time limit gets default", func(s *JobSpec) { s.TimeLimit = 0 }, false},
		{"job id too short", func(s *JobSpec) { s.JobID = "ab" }, true},
		{"job id with illegal chars", func(s *JobSpec) { s.JobID = "job 001!" }, true},
		{"missing task type", func(s *JobSpec) { s.TaskType = "" }, true},
		{"missing scorer", func(s *JobSpec) { s.Scorer = "" }, true},
		{"time limit below minimum", func(s *JobSpec) { s.TimeLimit = 30 }, true},
		{"time limit above maximum", func(s *JobSpec) { s.TimeLimit = 10000 }, true},
		{"cpu below minimum", func(s *JobSpec) { s.Resources.CPU = 0.05 }, true},
		{"cpu above maximum", func(s *JobSpec) { s.Resources.CPU = 64 }, true},
		{"missing memory", func(s *JobSpec) { s.Resources.Memory = "" }, true},
		{"unparseable memory", func(s *JobSpec) { s.Resources.Memory = "lots" }, true},
		{"negative gpu", func(s *JobSpec) { s.Resources.GPU = -1 }, true},
		{"gpu above maximum", func(s *JobSpec) { s.Resources.GPU = 9 }, true},
		{"missing image", func(s *JobSpec) { s.Container.Image = "" }, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := validSpec()
			tt.mutate(&spec)
			err := spec.Normalize()
			if tt.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestJobSpec_Normalize_DefaultsTimeLimit(t *testing.T) {
	spec := validSpec()
	require.NoError(t, spec.Normalize())
	require.Equal(t, DefaultTimeLimit, spec.TimeLimit)
}

func TestResourceSpec_MemoryBytes(t *testing.T) {
	tests := []struct {
		memory string
		want   int64
	}{
		{"512Mi", 512 * 1024 * 1024},
		{"4Gi", 4 * 1024 * 1024 * 1024},
		{"1024", 1024},
	}
	for _, tt := range tests {
		got, err := ResourceSpec{Memory: tt.memory}.MemoryBytes()
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestParseAction(t *testing.T) {
	for _, valid := range []string{"run", "score", "pipeline"} {
		a, err := ParseAction(valid)
		require.NoError(t, err)
		require.Equal(t, Action(valid), a)
	}

	_, err := ParseAction("replay")
	require.Error(t, err)
}
