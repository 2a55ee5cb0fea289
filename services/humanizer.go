package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"genify/monitoring"
)

var ErrHumanizeTimeout = errors.New("processing timed out")

// UpstreamError is a failure reported by the humanization API. Status is
// the HTTP status the caller should answer with.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string { return e.Message }

type HumanizeResult struct {
	Output          string          `json:"output"`
	DetectionResult json.RawMessage `json:"detection_result,omitempty"`
	DetectionScore  json.RawMessage `json:"detection_score,omitempty"`
	Simulated       bool            `json:"simulated,omitempty"`
}

type HumanizerOptions struct {
	BaseURL      string
	APIKey       string
	PollAttempts int
	PollInterval time.Duration
	// Fallback rewrites the text locally when the API cannot be reached.
	Fallback bool
}

type HumanizerService struct {
	client *http.Client
	opts   HumanizerOptions
	log    *zap.Logger
}

func NewHumanizerService(client *http.Client, opts HumanizerOptions, log *zap.Logger) *HumanizerService {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.PollAttempts < 1 {
		opts.PollAttempts = 1
	}
	return &HumanizerService{client: client, opts: opts, log: log}
}

type apiEnvelope struct {
	ErrCode int             `json:"err_code"`
	ErrMsg  string          `json:"err_msg"`
	Data    json.RawMessage `json:"data"`
}

type submitData struct {
	TaskID string `json:"task_id"`
}

type obtainData struct {
	SubtaskStatus   string          `json:"subtask_status"`
	Output          string          `json:"output"`
	DetectionResult json.RawMessage `json:"detection_result"`
	DetectionScore  json.RawMessage `json:"detection_score"`
}

// Humanize submits text and polls until the task completes or the attempts
// run out.
func (s *HumanizerService) Humanize(ctx context.Context, text string) (*HumanizeResult, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}

	res, err := s.remote(ctx, text)
	var transport *transportError
	if errors.As(err, &transport) && s.opts.Fallback {
		s.log.Warn("humanizer unreachable, using simulation", zap.Error(err))
		monitoring.HumanizerRequests.WithLabelValues("simulated").Inc()
		return &HumanizeResult{Output: Simulate(text), Simulated: true}, nil
	}
	switch {
	case err == nil:
		monitoring.HumanizerRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrHumanizeTimeout):
		monitoring.HumanizerRequests.WithLabelValues("timeout").Inc()
	default:
		monitoring.HumanizerRequests.WithLabelValues("error").Inc()
	}
	if transport != nil {
		return nil, &UpstreamError{Status: http.StatusServiceUnavailable, Message: "No response received from the humanization service"}
	}
	return res, err
}

// transportError means no response came back at all.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (s *HumanizerService) remote(ctx context.Context, text string) (*HumanizeResult, error) {
	body, _ := json.Marshal(map[string]string{"input": text, "mode": "Latest"})
	var submit submitData
	env, err := s.call(ctx, http.MethodPost, s.opts.BaseURL+"/submit", body, &submit)
	if err != nil {
		return nil, err
	}
	if env.ErrCode != 0 {
		msg := env.ErrMsg
		if msg == "" {
			msg = "Failed to submit task"
		}
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: msg}
	}

	obtainURL := s.opts.BaseURL + "/obtain?task_id=" + url.QueryEscape(submit.TaskID)
	for i := 0; i < s.opts.PollAttempts; i++ {
		var data obtainData
		env, err := s.call(ctx, http.MethodGet, obtainURL, nil, &data)
		if err != nil {
			return nil, err
		}
		if env.ErrCode != 0 {
			s.log.Debug("humanizer poll error", zap.String("taskId", submit.TaskID), zap.String("msg", env.ErrMsg))
		} else if data.SubtaskStatus == "completed" {
			return &HumanizeResult{
				Output:          data.Output,
				DetectionResult: data.DetectionResult,
				DetectionScore:  data.DetectionScore,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}
	}
	return nil, ErrHumanizeTimeout
}

func (s *HumanizerService) call(ctx context.Context, method, target string, body []byte, data any) (*apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.opts.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	var env apiEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 300 {
		msg := env.ErrMsg
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Message: fmt.Sprintf("API Error: %d - %s", resp.StatusCode, msg)}
	}
	if decodeErr != nil {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "Malformed response from the humanization service"}
	}
	if env.ErrCode == 0 && len(env.Data) > 0 && data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "Malformed response from the humanization service"}
		}
	}
	return &env, nil
}

type rewrite struct {
	re   *regexp.Regexp
	with string
}

var simulationRewrites = []rewrite{
	{regexp.MustCompile(`• `), "- "},
	{regexp.MustCompile(`(?i)utilize`), "use"},
	{regexp.MustCompile(`(?i)implement`), "set up"},
	{regexp.MustCompile(`(?i)obtain`), "get"},
	{regexp.MustCompile(`(?i)commence`), "start"},
	{regexp.MustCompile(`(?i)terminate`), "end"},
	{regexp.MustCompile(`(?i)It is recommended`), "I recommend"},
	{regexp.MustCompile(`(?i)Please note that`), "Keep in mind"},
	{regexp.MustCompile(`(?i)In conclusion`), "To wrap up"},
	{regexp.MustCompile(`(?i)Additionally,`), "Also,"},
	{regexp.MustCompile(`(?i)Furthermore,`), "Plus,"},
	{regexp.MustCompile(`(?i)However,`), "But,"},
	{regexp.MustCompile(`(?i)it is`), "it's"},
	{regexp.MustCompile(`(?i)cannot`), "can't"},
	{regexp.MustCompile(`(?i)will not`), "won't"},
	{regexp.MustCompile(`(?i)do not`), "don't"},
}

const simulationNote = "\n\n[Note: This text was processed with the simulation mode because the API connection failed. In production, this would use the real API.]"

// Simulate is the offline stand-in for the humanization API.
func Simulate(text string) string {
	for _, r := range simulationRewrites {
		text = r.re.ReplaceAllString(text, r.with)
	}
	return text + simulationNote
}
