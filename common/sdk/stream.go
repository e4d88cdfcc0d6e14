package sdk

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ExecutionStream delivers the server-sent events of one run. The
// channel closes when the run reaches a terminal status or the stream
// is torn down.
type ExecutionStream struct {
	// ExecutionID identifies the run started by this stream
	ExecutionID uuid.UUID

	events  chan *Event
	body    io.ReadCloser
	done    chan struct{}
	once    sync.Once
	readErr error
}

// StreamExecution starts a workflow run and returns its live event
// stream. Callers must Close the stream when done with it.
func (c *Client) StreamExecution(ctx context.Context, req *ExecuteRequest) (*ExecutionStream, error) {
	resp, err := c.do(ctx, c.stream, http.MethodPost, "/api/v1/executions/stream", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiErrorFrom(resp)
	}

	execID, _ := uuid.Parse(resp.Header.Get("X-Execution-ID"))
	stream := &ExecutionStream{
		ExecutionID: execID,
		events:      make(chan *Event, 16),
		body:        resp.Body,
		done:        make(chan struct{}),
	}
	go stream.pump()
	return stream, nil
}

// Events returns the event channel. It closes when the stream ends.
func (s *ExecutionStream) Events() <-chan *Event {
	return s.events
}

// Close tears the stream down. The run itself keeps going server-side.
func (s *ExecutionStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.body.Close()
}

// Err reports why the stream ended early, nil for a clean close. Only
// meaningful after the event channel has closed.
func (s *ExecutionStream) Err() error {
	return s.readErr
}

func (s *ExecutionStream) pump() {
	defer close(s.events)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		case line == "":
			if eventType == "" && len(data) == 0 {
				continue
			}
			select {
			case s.events <- &Event{Type: eventType, Data: data}:
			case <-s.done:
				return
			}
			eventType, data = "", nil
		}
	}

	if err := scanner.Err(); err != nil &&
		!errors.Is(err, net.ErrClosed) &&
		!errors.Is(err, http.ErrBodyReadAfterClose) {
		s.readErr = err
	}
}
