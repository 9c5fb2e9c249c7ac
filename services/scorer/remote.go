// Package scorersvc holds the scorers backed by external services.
package scorersvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

const defaultTimeout = 10 * time.Second

// RemoteScorer delegates scoring to an HTTP service.
//
// The service receives the personality.ScoreRequest as JSON and answers with a personality.ScoreResult.
// 422 means the signals are not enough to score. Transport errors, 429 and 5xx are transient.
type RemoteScorer struct {
	url    string
	apiKey string
	client *rest.Client
	logger core.Logger
}

var _ personality.Scorer = (*RemoteScorer)(nil)

func NewRemoteScorer(conf *core.Config, logger core.Logger) *RemoteScorer {
	timeout := conf.Scorer.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RemoteScorer{
		url:    strings.TrimRight(conf.Scorer.RemoteURL, "/"),
		apiKey: conf.Scorer.APIKey,
		client: &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		logger: logger,
	}
}

func (s *RemoteScorer) Score(ctx context.Context, req personality.ScoreRequest) (personality.ScoreResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return personality.ScoreResult{}, errors.Wrap(err, "encoding score request")
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}
	res, err := s.client.SendWithContext(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: s.url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return personality.ScoreResult{}, ctxErr
		}
		return personality.ScoreResult{}, errors.Wrap(personality.ErrScoringUnavailable, err.Error())
	}

	switch code := res.StatusCode; {
	case code == http.StatusUnprocessableEntity:
		return personality.ScoreResult{}, personality.ErrInsufficientSignal
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		s.logger.Warn("remote scorer unavailable", map[string]interface{}{"status": code, "userId": req.UserID})
		return personality.ScoreResult{}, errors.Wrapf(personality.ErrScoringUnavailable, "remote scorer status %d", code)
	case code >= http.StatusBadRequest:
		return personality.ScoreResult{}, errors.Errorf("remote scorer rejected request: status %d: %s", code, res.Body)
	}

	var result personality.ScoreResult
	if err = json.Unmarshal([]byte(res.Body), &result); err != nil {
		return personality.ScoreResult{}, errors.Wrap(err, "decoding score result")
	}
	result.Confidence = core.Clamp01(result.Confidence)
	return result, nil
}
