package util

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetResultKey is the cache key for a finished task's payload.
func GetResultKey(taskID string) string {
	return fmt.Sprintf("result:%s", taskID)
}

// GetArchivePath is the object-storage path for a workspace artifact.
func GetArchivePath(jobID, name string) string {
	return fmt.Sprintf("runs/%s/%s", jobID, name)
}
