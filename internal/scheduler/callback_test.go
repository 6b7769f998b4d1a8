package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/model"
)

func callbackTask(t *testing.T, url string, merr *model.Error) *model.Task {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)

	task := &model.Task{
		ID:          id,
		Workspace:   "/data/ws",
		Action:      model.ActionPipeline,
		CallbackURL: url,
		CreatedAt:   time.Now().UTC(),
	}
	if merr != nil {
		task.State = model.TaskFailure
		task.Error = merr
	} else {
		task.State = model.TaskSuccess
		res := model.NewResult("accuracy", "1.0.0")
		res.Metrics["accuracy"] = 0.8
		res.Summary = model.Summary{Score: 0.8, PrimaryMetric: "accuracy"}
		task.Result = res
	}
	return task
}

func newCallbackClient(retries int) *CallbackClient {
	return NewCallbackClient(&config.SchedulerConfig{
		CALLBACK_TIMEOUT: 2,
		CALLBACK_RETRIES: retries,
	})
}

func TestCallback_SuccessPayload(t *testing.T) {
	var got callbackEnvelope
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task := callbackTask(t, srv.URL, nil)
	newCallbackClient(3).Deliver(context.Background(), task)

	require.Equal(t, int32(1), calls.Load())
	require.True(t, got.OK)
	require.Nil(t, got.Error)
	require.Equal(t, task.ID.String(), got.Meta.TaskID)
	require.Equal(t, "/data/ws", got.Meta.Workspace)

	data, ok := got.Data.(map[string]any)
	require.True(t, ok)
	require.Contains(t, data, "pipeline_result")
}

func TestCallback_FailurePayload(t *testing.T) {
	var got callbackEnvelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	merr := model.NewError(model.StageExecution, model.CodeContainerExitNonzero, "exit 2")
	newCallbackClient(3).Deliver(context.Background(), callbackTask(t, srv.URL, merr))

	require.False(t, got.OK)
	require.NotNil(t, got.Error)
	require.Equal(t, model.CodeContainerExitNonzero, got.Error.Code)
	require.Equal(t, model.StageExecution, got.Error.Stage)
}

func TestCallback_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	newCallbackClient(3).Deliver(context.Background(), callbackTask(t, srv.URL, nil))
	require.Equal(t, int32(3), calls.Load())
}

func TestCallback_GivesUpAfterBoundedAttempts(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	newCallbackClient(2).Deliver(context.Background(), callbackTask(t, srv.URL, nil))
	require.Equal(t, int32(2), calls.Load())
}

func TestCallback_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	newCallbackClient(3).Deliver(context.Background(), callbackTask(t, srv.URL, nil))
	require.Equal(t, int32(1), calls.Load())
}
