package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/database"
)

const maxResponseBodyBytes = 1024

const (
	EventLessonCompleted = "lesson.completed"
	EventLessonMilestone = "lesson.milestone"
)

// ErrNotConfigured is returned by LookupConfig when the program has no
// webhook endpoint.
var ErrNotConfigured = errors.New("no webhook configured")

type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func LessonCompleted(now time.Time, lessonID, learnerID, nextLessonID string) Event {
	data := map[string]any{"lessonId": lessonID, "learnerId": learnerID}
	if nextLessonID != "" {
		data["nextLessonId"] = nextLessonID
	} else {
		data["programFinished"] = true
	}
	return Event{ID: uuid.NewString(), Name: EventLessonCompleted, Timestamp: now.UTC(), Data: data}
}

func LessonMilestone(now time.Time, lessonID, learnerID string, milestone int) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      EventLessonMilestone,
		Timestamp: now.UTC(),
		Data:      map[string]any{"lessonId": lessonID, "learnerId": learnerID, "milestone": milestone},
	}
}

// Client dispatches webhook events with retries and delivery logging.
type Client struct {
	db          database.DBTX
	http        *http.Client
	clock       clockwork.Clock
	retryDelays []time.Duration
}

func New(db database.DBTX) *Client {
	return &Client{
		db:          db,
		http:        &http.Client{Timeout: 10 * time.Second},
		clock:       clockwork.NewRealClock(),
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
	}
}

// WithClock replaces the clock used between retries.
func (c *Client) WithClock(clock clockwork.Clock) *Client {
	c.clock = clock
	return c
}

func (c *Client) Now() time.Time {
	return c.clock.Now()
}

// SignPayload computes HMAC-SHA256 of the payload using the secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch posts an event to webhookURL, retrying after each configured delay.
// Every attempt is logged to webhook_deliveries.
func (c *Client) Dispatch(ctx context.Context, programID, webhookURL, secret string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(secret, body)
	maxAttempts := 1 + len(c.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, respBody, err := c.doPost(ctx, webhookURL, event, body, signature)
		c.logDelivery(ctx, programID, event.Name, body, statusCode, respBody, attempt)

		if err == nil && statusCode != nil && *statusCode >= 200 && *statusCode < 300 {
			return nil
		}

		if err != nil {
			lastErr = err
		} else if statusCode != nil {
			lastErr = fmt.Errorf("webhook returned status %d", *statusCode)
		}

		if attempt < maxAttempts {
			select {
			case <-c.clock.After(c.retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// Notify looks up the program's endpoint and dispatches the event. A program
// without a webhook is not an error.
func (c *Client) Notify(ctx context.Context, programID string, event Event) error {
	url, secret, err := c.LookupConfig(ctx, programID)
	if errors.Is(err, ErrNotConfigured) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup webhook config: %w", err)
	}
	return c.Dispatch(ctx, programID, url, secret, event)
}

func (c *Client) doPost(ctx context.Context, url string, event Event, body []byte, signature string) (*int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", event.Name)
	if event.ID != "" {
		req.Header.Set("X-Webhook-Id", event.ID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err.Error(), err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodyBytes)+1))
	respBody := string(respBytes)
	if len(respBody) > maxResponseBodyBytes {
		respBody = respBody[:maxResponseBodyBytes]
	}

	return &resp.StatusCode, respBody, nil
}

func (c *Client) logDelivery(ctx context.Context, programID, event string, payload []byte, statusCode *int, responseBody string, attempt int) {
	if _, err := c.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (program_id, event, payload, status_code, response_body, attempt)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		programID, event, payload, statusCode, responseBody, attempt,
	); err != nil {
		slog.Error("webhook: failed to log delivery", "program_id", programID, "error", err)
	}
}

// LookupConfig fetches the webhook URL and secret for a program.
func (c *Client) LookupConfig(ctx context.Context, programID string) (webhookURL, secret string, err error) {
	err = c.db.QueryRow(ctx,
		`SELECT webhook_url, webhook_secret
		 FROM program_webhooks
		 WHERE program_id = $1`,
		programID,
	).Scan(&webhookURL, &secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotConfigured
	}
	if err != nil {
		return "", "", err
	}
	if webhookURL == "" || secret == "" {
		return "", "", ErrNotConfigured
	}
	return webhookURL, secret, nil
}
