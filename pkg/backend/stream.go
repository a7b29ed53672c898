package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
)

// DoneSentinel terminates a frame stream
const DoneSentinel = "[DONE]"

// Stream sends a generation request and returns a channel of chunk events.
// The backend answers with newline-delimited "data: {...}" frames closed by
// the [DONE] sentinel. The channel is closed when the stream ends, errors,
// or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req GenerateRequest) (<-chan message.ChunkEvent, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/generate/stream", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readHTTPError(resp)
	}

	chunks := make(chan message.ChunkEvent, 100)
	go c.readStream(ctx, resp, chunks)

	return chunks, nil
}

// readStream scans data: frames off the response body until the sentinel,
// an error, or cancellation.
func (c *Client) readStream(ctx context.Context, resp *http.Response, chunks chan<- message.ChunkEvent) {
	defer close(chunks)
	defer resp.Body.Close()

	log := logger.WithComponent("backend_stream")
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sequence := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			log.Debug("stream cancelled", "sequence", sequence)
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			log.Debug("skipping non-data frame", "line", line)
			continue
		}

		if data == DoneSentinel {
			chunks <- message.ChunkEvent{
				Type:       message.ChunkTypeComplete,
				Sequence:   sequence,
				IsComplete: true,
			}
			return
		}

		var event message.ChunkEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			log.Warn("malformed frame dropped", "error", err)
			continue
		}
		if event.Sequence == 0 {
			event.Sequence = sequence
		}
		sequence++

		select {
		case chunks <- event:
		case <-ctx.Done():
			return
		}

		if event.IsComplete {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Error("stream read failed", "error", err)
		chunks <- message.ChunkEvent{
			Type:    message.ChunkTypeError,
			Content: err.Error(),
		}
	}
}
