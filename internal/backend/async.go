// ABOUTME: Fire-and-forget side work toward the backend service
// ABOUTME: Detached, retry-less, logged on failure, never on the response path

package backend

import (
	"context"
	"time"
)

// asyncTimeout bounds detached side calls so they cannot linger forever.
const asyncTimeout = 15 * time.Second

// PostAssistantMessageAsync persists an assistant message in a detached
// goroutine. Failures are logged and swallowed; there is no retry.
func (c *Client) PostAssistantMessageAsync(sessionID, content string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if err := c.PostAssistantMessage(ctx, sessionID, content); err != nil {
			c.logger.Error("posting assistant message failed",
				"session_id", sessionID,
				"error", err)
		}
	}()
}

// PostUsageAsync records token usage in a detached goroutine. Failures are
// logged and swallowed; there is no retry.
func (c *Client) PostUsageAsync(record UsageRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if err := c.PostUsage(ctx, record); err != nil {
			c.logger.Error("reporting token usage failed",
				"session_id", record.SessionID,
				"source", record.Source,
				"error", err)
		}
	}()
}
