package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/model"
)

// CallbackClient delivers one completion notification per finished task.
// Delivery is at-most-once from the caller's view: a bounded number of
// attempts, then the failure is logged and dropped.
type CallbackClient struct {
	client  *http.Client
	retries int
}

func NewCallbackClient(cfg *config.SchedulerConfig) *CallbackClient {
	return &CallbackClient{
		client: &http.Client{
			Timeout: time.Duration(cfg.CALLBACK_TIMEOUT) * time.Second,
		},
		retries: cfg.CALLBACK_RETRIES,
	}
}

type callbackMeta struct {
	TaskID    string `json:"task_id"`
	Workspace string `json:"workspace"`
}

type callbackEnvelope struct {
	OK    bool         `json:"ok"`
	Data  any          `json:"data,omitempty"`
	Error *model.Error `json:"error,omitempty"`
	Meta  callbackMeta `json:"meta"`
}

// Deliver posts the task outcome to the task's callback URL, retrying
// with exponential backoff on transport errors and 5xx responses.
func (c *CallbackClient) Deliver(ctx context.Context, task *model.Task) {
	envelope := callbackEnvelope{
		OK: task.Error == nil,
		Meta: callbackMeta{
			TaskID:    task.ID.String(),
			Workspace: task.Workspace,
		},
	}
	if task.Error != nil {
		envelope.Error = task.Error
	} else {
		envelope.Data = map[string]any{"pipeline_result": task.Result}
	}

	body, err := json.Marshal(&envelope)
	if err != nil {
		logger.Log.Error().Err(err).Str("task_id", task.ID.String()).Msg("unable to encode callback payload")
		return
	}

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		lastErr = c.post(ctx, task.CallbackURL, body)
		if lastErr == nil {
			logger.Log.Info().
				Str("task_id", task.ID.String()).
				Int("attempt", attempt).
				Msg("callback delivered")
			return
		}

		logger.Log.Warn().Err(lastErr).
			Str("task_id", task.ID.String()).
			Int("attempt", attempt).
			Msg("callback attempt failed")

		if attempt < c.retries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}
	}

	logger.Log.Error().Err(lastErr).
		Str("task_id", task.ID.String()).
		Str("code", model.CodeCallbackFailed).
		Msg("callback delivery exhausted")
}

func (c *CallbackClient) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode >= 500 {
		return fmt.Errorf("callback returned %d", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		// 4xx is the receiver rejecting the payload; retrying cannot help.
		logger.Log.Warn().Int("status", res.StatusCode).Msg("callback rejected")
	}
	return nil
}

func readIfExists(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return raw, err
}
