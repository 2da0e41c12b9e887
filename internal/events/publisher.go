// Package events fans out session lifecycle and finalized transcript
// entries over redis pub/sub, so downstream consumers (archival, live
// dashboards) can follow sessions without holding a gateway connection.
// The publisher is optional: with no redis address configured every call
// is a no-op.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// Publisher mirrors gateway sessions onto redis channels. Publishing is
// best-effort: a redis outage is logged and never fails the session.
type Publisher struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewPublisher connects to redis at addr. An empty addr returns a disabled
// publisher whose methods all no-op.
func NewPublisher(addr, prefix string, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "transcript-gateway"
	}
	p := &Publisher{prefix: prefix, logger: logger.With().Str("component", "events").Logger()}
	if addr == "" {
		return p
	}
	p.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return p
}

// Enabled reports whether a redis connection is configured.
func (p *Publisher) Enabled() bool { return p.client != nil }

// Ping verifies the redis connection; used by the readiness probe.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return p.client.Ping(ctx).Err()
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// sessionEvent is the wire shape on the sessions channel.
type sessionEvent struct {
	Event      string `json:"event"`
	SessionID  string `json:"session_id"`
	Backend    string `json:"backend,omitempty"`
	Entries    int    `json:"entries,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// entryEvent is the wire shape on the entries channel.
type entryEvent struct {
	SessionID string           `json:"session_id"`
	Entry     transcript.Entry `json:"entry"`
}

// sessionKeyTTL bounds how long ended sessions linger in redis.
const sessionKeyTTL = 24 * time.Hour

// SessionStarted announces a new capture session and mirrors its state into
// a hash so late-joining consumers can catch up without replaying events.
func (p *Publisher) SessionStarted(ctx context.Context, sessionID, backend string) {
	p.publish(ctx, p.prefix+":sessions", sessionEvent{
		Event:     "started",
		SessionID: sessionID,
		Backend:   backend,
		Timestamp: time.Now().UnixMilli(),
	})
	p.setState(ctx, sessionID, map[string]interface{}{
		"state":      "live",
		"backend":    backend,
		"started_at": time.Now().UnixMilli(),
	})
}

// SessionEnded announces the end of a session with its final entry count.
func (p *Publisher) SessionEnded(ctx context.Context, sessionID string, entries int, duration time.Duration) {
	p.publish(ctx, p.prefix+":sessions", sessionEvent{
		Event:      "ended",
		SessionID:  sessionID,
		Entries:    entries,
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now().UnixMilli(),
	})
	p.setState(ctx, sessionID, map[string]interface{}{
		"state":       "ended",
		"entries":     entries,
		"duration_ms": duration.Milliseconds(),
	})
}

// EntryFinalized mirrors one finalized transcript entry.
func (p *Publisher) EntryFinalized(ctx context.Context, sessionID string, entry transcript.Entry) {
	p.publish(ctx, p.prefix+":entries", entryEvent{SessionID: sessionID, Entry: entry})
}

func (p *Publisher) setState(ctx context.Context, sessionID string, fields map[string]interface{}) {
	if p.client == nil {
		return
	}
	key := p.prefix + ":session:" + sessionID
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, sessionKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session state mirror failed")
	}
}

func (p *Publisher) publish(ctx context.Context, channel string, payload any) {
	if p.client == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Str("channel", channel).Msg("event marshal failed")
		return
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("event publish failed")
	}
}
