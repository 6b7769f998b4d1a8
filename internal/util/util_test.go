package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetResultKey(t *testing.T) {
	require.Equal(t, "result:abc-123", GetResultKey("abc-123"))
}

func TestGetArchivePath(t *testing.T) {
	require.Equal(t, "runs/job-001/result.json", GetArchivePath("job-001", "result.json"))
	require.Equal(t, "runs/job-001/container.log", GetArchivePath("job-001", "container.log"))
}
