package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buildmaster/buildmaster/internal/llm"
)

// RetryConfig bounds the retry loop around model calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns defaults tuned for LLM backends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether err looks transient. Validation and
// malformed-request failures never retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "quota exceeded", "429",
		"500", "502", "503", "504", "unavailable",
		"connection reset", "connection refused", "timeout", "temporary",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// generateWithRetry calls the model with exponential backoff on transient
// failures. Each attempt passes the rate limiter separately.
func (s *Service) generateWithRetry(ctx context.Context, req llm.Request) (string, error) {
	var lastErr error
	delay := s.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}

		text, err := s.llm.Generate(ctx, req)
		if err == nil {
			s.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return text, nil
		}

		lastErr = err
		if !retryableError(err) {
			return "", err
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		s.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, s.retry.MaxInterval)
		}
	}

	return "", fmt.Errorf("generation after %d retries (elapsed %v): %w",
		s.retry.MaxRetries, time.Since(start), lastErr)
}
