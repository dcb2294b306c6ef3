// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"
)

const (
	retryBaseDelay = 300 * time.Millisecond
	retryMaxDelay  = 4 * time.Second
)

// StatusError carries a non-2xx provider response. 429 and 5xx are
// retryable; other statuses surface immediately with the body attached.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// Retryable reports whether an error is worth another attempt: rate
// limits, server errors and transient network failures.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// WithRetry runs fn up to maxRetries times with capped exponential
// backoff, stopping early on non-retryable errors or cancellation.
func WithRetry(ctx context.Context, maxRetries int, logger *slog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			logger.Debug("retrying", "op", op, "attempt", attempt+1, "error", lastErr)
		}
		if err := fn(); err != nil {
			lastErr = err
			if !Retryable(err) {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}
