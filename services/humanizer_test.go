package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHumanizer(baseURL string, fallback bool) *HumanizerService {
	return NewHumanizerService(nil, HumanizerOptions{
		BaseURL:      baseURL,
		APIKey:       "key-1",
		PollAttempts: 3,
		PollInterval: time.Millisecond,
		Fallback:     fallback,
	}, zap.NewNop())
}

func TestHumanizeSubmitsAndPolls(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		switch r.URL.Path {
		case "/submit":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["input"])
			assert.Equal(t, "Latest", body["mode"])
			w.Write([]byte(`{"err_code":0,"data":{"task_id":"t-1"}}`))
		case "/obtain":
			assert.Equal(t, "t-1", r.URL.Query().Get("task_id"))
			if atomic.AddInt32(&polls, 1) < 2 {
				w.Write([]byte(`{"err_code":0,"data":{"subtask_status":"processing"}}`))
				return
			}
			w.Write([]byte(`{"err_code":0,"data":{"subtask_status":"completed","output":"hi there","detection_result":"human","detection_score":3}}`))
		}
	}))
	defer srv.Close()

	res, err := newHumanizer(srv.URL, false).Humanize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Output)
	assert.JSONEq(t, `"human"`, string(res.DetectionResult))
	assert.JSONEq(t, `3`, string(res.DetectionScore))
	assert.False(t, res.Simulated)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestHumanizeTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/submit" {
			w.Write([]byte(`{"err_code":0,"data":{"task_id":"t-1"}}`))
			return
		}
		w.Write([]byte(`{"err_code":0,"data":{"subtask_status":"processing"}}`))
	}))
	defer srv.Close()

	_, err := newHumanizer(srv.URL, false).Humanize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrHumanizeTimeout)
}

func TestHumanizeUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"err_code":1001,"err_msg":"insufficient words"}`))
	}))
	defer srv.Close()

	_, err := newHumanizer(srv.URL, true).Humanize(context.Background(), "hello")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadRequest, upstream.Status)
	assert.Equal(t, "insufficient words", upstream.Message)

	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"err_code":429,"err_msg":"slow down"}`))
	}))
	defer limited.Close()

	_, err = newHumanizer(limited.URL, true).Humanize(context.Background(), "hello")
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Contains(t, upstream.Message, "slow down")
}

func TestHumanizeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newHumanizer(base, false).Humanize(context.Background(), "hello")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusServiceUnavailable, upstream.Status)

	res, err := newHumanizer(base, true).Humanize(context.Background(), "We cannot utilize this.")
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.True(t, strings.HasPrefix(res.Output, "We can't use this."))
}

func TestHumanizeRequiresText(t *testing.T) {
	_, err := newHumanizer("http://unused", false).Humanize(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSimulate(t *testing.T) {
	out := Simulate("It is recommended to commence now. However, it is late.\n• Please note that we do not terminate.")
	assert.True(t, strings.HasPrefix(out, "I recommend to start now. But, it's late.\n- Keep in mind we don't end."))
	assert.True(t, strings.HasSuffix(out, simulationNote))
}
