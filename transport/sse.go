package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// sseRetryInterval paces reconnects of the background SSE stream.
const sseRetryInterval = time.Second

// scanEvents parses an SSE stream, emitting each blank-line-terminated
// data block. Non-data fields (event:, id:, retry:) are ignored.
func scanEvents(reader io.Reader, emit func([]byte)) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	var data [][]byte
	flush := func() {
		if len(data) == 0 {
			return
		}
		emit(bytes.Join(data, []byte("\n")))
		data = nil
	}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			flush()
			continue
		}
		if value, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			value = bytes.TrimPrefix(value, []byte(" "))
			event := make([]byte, len(value))
			copy(event, value)
			data = append(data, event)
		}
	}
	flush()
	return scanner.Err()
}

// listen keeps a GET SSE stream open until ctx is cancelled. A 401 triggers
// a token refresh and immediate reconnect; any other failure backs off
// briefly and reconnects.
func (t *Streamable) listen(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		status, err := t.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if status == http.StatusUnauthorized && t.tokens != nil {
			if _, refreshErr := t.tokens.Refresh(ctx); refreshErr == nil {
				continue
			}
		}
		if err != nil {
			t.logger.Debug("sse stream interrupted", "endpoint", t.endpoint, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sseRetryInterval):
		}
	}
}

func (t *Streamable) stream(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/event-stream")
	t.decorate(ctx, req)
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if session := resp.Header.Get(sessionHeader); session != "" {
		t.setSession(session)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, newStatusError(resp.StatusCode)
	}
	return resp.StatusCode, scanEvents(resp.Body, t.deliver)
}
