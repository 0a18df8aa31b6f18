package reconciler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrUnauthorized stops a Stream when the portal rejects the token.
var ErrUnauthorized = errors.New("reconciler: push channel rejected the session")

// Stream reads the portal's server-sent event channel and reconnects with
// exponential backoff when it drops.
type Stream struct {
	url        func() (string, error)
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	log        *zap.Logger
}

// NewStream reads from the URL returned by url, which is asked again on every
// reconnect so a refreshed token is picked up.
func NewStream(url func() (string, error)) *Stream {
	return &Stream{
		url:        url,
		httpClient: &http.Client{},
		newBackOff: func() backoff.BackOff { return exponential(time.Second, 30*time.Second) },
		log:        zap.NewNop(),
	}
}

func exponential(initial, max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	return b
}

func (s *Stream) WithHTTPClient(c *http.Client) *Stream {
	if c != nil {
		s.httpClient = c
	}
	return s
}

func (s *Stream) WithBackOff(initial, max time.Duration) *Stream {
	if initial > 0 && max >= initial {
		s.newBackOff = func() backoff.BackOff { return exponential(initial, max) }
	}
	return s
}

func (s *Stream) WithLogger(log *zap.Logger) *Stream {
	if log != nil {
		s.log = log
	}
	return s
}

// Run delivers each event's data to handle, in arrival order, until ctx ends
// or the portal rejects the session.
func (s *Stream) Run(ctx context.Context, handle func(data []byte)) error {
	b := s.newBackOff()
	for {
		connected, err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("reconciler: giving up on push channel: %w", err)
		}
		s.log.Warn("push channel dropped, reconnecting", zap.Error(err), zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// consume holds one connection open. connected reports whether the portal
// accepted it, which resets the backoff.
func (s *Stream) consume(ctx context.Context, handle func([]byte)) (connected bool, err error) {
	u, err := s.url()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("reconciler: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("reconciler: connect: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("reconciler: push channel status %d", resp.StatusCode)
	}
	s.log.Debug("push channel connected")
	return true, readEvents(resp.Body, handle)
}

// readEvents parses a text/event-stream body. Only data lines are kept;
// comments and other fields are skipped.
func readEvents(r io.Reader, handle func([]byte)) error {
	br := bufio.NewReader(r)
	var data []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("reconciler: read: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				handle([]byte(strings.Join(data, "\n")))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
