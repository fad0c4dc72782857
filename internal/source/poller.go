package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"efpmachine/internal/ingest"
	"efpmachine/internal/parse"
)

// PolledEvent is the payload shape of the polled events endpoint, which
// numbers its events so new ones can be detected by watermark.
type PolledEvent struct {
	EventID  int64         `json:"eventId"`
	Messages []ChatMessage `json:"messages"`
}

// Poller periodically fetches chat events over HTTP and feeds unseen ones
// through the parser into the queue.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	parser   *parse.Parser
	queue    *ingest.Queue
	logger   *slog.Logger

	lastSeen int64
}

// NewPoller creates a Poller against the given events URL.
func NewPoller(url string, interval time.Duration, parser *parse.Parser, queue *ingest.Queue, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
		parser:   parser,
		queue:    queue,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. Fetch failures are logged and retried
// on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("poll failed", "url", p.url, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events endpoint returned status %d", resp.StatusCode)
	}

	var events []PolledEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return fmt.Errorf("decode events: %w", err)
	}

	for _, ev := range events {
		if ev.EventID <= p.lastSeen {
			continue
		}
		p.lastSeen = ev.EventID
		eventID := strconv.FormatInt(ev.EventID, 10)
		for _, m := range ev.Messages {
			legs := p.parser.Parse(ctx, eventID, m.Message, m.senderUUID())
			for _, leg := range legs {
				if err := p.queue.Enqueue(ctx, leg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
