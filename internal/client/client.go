// Package client talks to the lesson API on behalf of a course page. It
// supplies the collaborators a session needs: a persistence callback, a
// completion backend and the requirements snapshot.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lessongate/lessongate/internal/completion"
	"github.com/lessongate/lessongate/internal/gate"
	"github.com/lessongate/lessongate/internal/player"
	"github.com/lessongate/lessongate/internal/progress"
	"github.com/lessongate/lessongate/internal/provider"
	"github.com/lessongate/lessongate/internal/session"
	"github.com/tidwall/gjson"
)

const maxErrorBodyBytes = 4 << 10

// APIError is a non-2xx answer from the lesson API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lesson api: status %d", e.Status)
	}
	return fmt.Sprintf("lesson api: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Playback struct {
	LessonID         string            `json:"lessonId"`
	Provider         provider.Provider `json:"provider"`
	Delivery         provider.Delivery `json:"delivery"`
	URL              string            `json:"url"`
	VideoID          string            `json:"videoId"`
	Origin           string            `json:"origin"`
	Segmented        bool              `json:"segmented"`
	DurationSeconds  float64           `json:"durationSeconds"`
	ResumePositionMs int64             `json:"resumePositionMs"`
	WatchedPercent   float64           `json:"watchedPercent"`
	Player           PlayerSettings    `json:"player"`
}

type PlayerSettings struct {
	SampleIntervalMs      int64 `json:"sampleIntervalMs"`
	ResumeGuardMs         int64 `json:"resumeGuardMs"`
	FocusDwellMs          int64 `json:"focusDwellMs"`
	AssumedDurationMs     int64 `json:"assumedDurationMs"`
	TrustInferredProgress bool  `json:"trustInferredProgress"`
}

// Options converts the server's settings. Zero values fall back to the
// player defaults.
func (s PlayerSettings) Options() player.Options {
	return player.Options{
		SampleInterval:  time.Duration(s.SampleIntervalMs) * time.Millisecond,
		ResumeGuard:     time.Duration(s.ResumeGuardMs) * time.Millisecond,
		FocusDwell:      time.Duration(s.FocusDwellMs) * time.Millisecond,
		AssumedDuration: time.Duration(s.AssumedDurationMs) * time.Millisecond,
	}
}

func (p Playback) Source() player.Source {
	return player.Source{
		URL:             p.URL,
		Provider:        p.Provider,
		DurationSeconds: p.DurationSeconds,
		Segmented:       p.Segmented,
	}
}

func (p Playback) Resume() progress.State {
	return progress.State{WatchedPercent: p.WatchedPercent, LastPositionMs: p.ResumePositionMs}
}

type GateSnapshot struct {
	Requirements   gate.Requirements `json:"requirements"`
	WatchedPercent float64           `json:"watchedPercent"`
	Gates          gate.Gates        `json:"gates"`
	Blocking       []gate.Reason     `json:"blocking"`
	Message        string            `json:"message"`
	Completed      bool              `json:"completed"`
}

func (c *Client) Playback(ctx context.Context, lessonID string) (Playback, error) {
	var p Playback
	err := c.do(ctx, http.MethodGet, lessonPath(lessonID, "playback"), nil, &p)
	return p, err
}

func (c *Client) Gates(ctx context.Context, lessonID string) (GateSnapshot, error) {
	var g GateSnapshot
	err := c.do(ctx, http.MethodGet, lessonPath(lessonID, "gates"), nil, &g)
	return g, err
}

// Requirements fetches the learner's current requirements snapshot.
func (c *Client) Requirements(ctx context.Context, lessonID string) (gate.Requirements, error) {
	g, err := c.Gates(ctx, lessonID)
	return g.Requirements, err
}

// SaveProgress writes progress and returns the percent the server holds,
// which may be higher than the one sent.
func (c *Client) SaveProgress(ctx context.Context, lessonID string, percent float64, positionMs int64) (float64, error) {
	body := map[string]any{"watchedPercent": percent, "positionMs": positionMs}
	var resp struct {
		WatchedPercent float64 `json:"watchedPercent"`
	}
	err := c.do(ctx, http.MethodPut, lessonPath(lessonID, "progress"), body, &resp)
	return resp.WatchedPercent, err
}

// ProgressWriter adapts SaveProgress to the reconciler's persistence callback.
func (c *Client) ProgressWriter(lessonID string) progress.PersistFunc {
	return func(ctx context.Context, percent float64, positionMs int64) error {
		_, err := c.SaveProgress(ctx, lessonID, percent, positionMs)
		return err
	}
}

func (c *Client) Complete(ctx context.Context, lessonID string) (completion.Result, error) {
	var r completion.Result
	err := c.do(ctx, http.MethodPost, lessonPath(lessonID, "complete"), nil, &r)
	return r, err
}

func (c *Client) Next(ctx context.Context, lessonID string) (completion.Result, error) {
	var r completion.Result
	err := c.do(ctx, http.MethodGet, lessonPath(lessonID, "next"), nil, &r)
	return r, err
}

// Lesson binds the completion backend to one lesson.
func (c *Client) Lesson(lessonID string) completion.Backend {
	return &lessonBackend{client: c, lessonID: lessonID}
}

type lessonBackend struct {
	client   *Client
	lessonID string
}

func (b *lessonBackend) MarkComplete(ctx context.Context) error {
	_, err := b.client.Complete(ctx, b.lessonID)
	return err
}

func (b *lessonBackend) NextLesson(ctx context.Context) (string, bool, error) {
	r, err := b.client.Next(ctx, b.lessonID)
	if err != nil {
		return "", false, err
	}
	return r.NextLessonID, r.Presentation == completion.HasNextLesson && r.NextLessonID != "", nil
}

// SessionConfig fetches everything a session needs for lessonID and wires
// the backend collaborators. The caller fills in Mount, the player's scheduler
// and listener, and callbacks.
func (c *Client) SessionConfig(ctx context.Context, lessonID string) (session.Config, error) {
	pb, err := c.Playback(ctx, lessonID)
	if err != nil {
		return session.Config{}, fmt.Errorf("fetch playback: %w", err)
	}
	req, err := c.Requirements(ctx, lessonID)
	if err != nil {
		return session.Config{}, fmt.Errorf("fetch requirements: %w", err)
	}
	return session.Config{
		Source:          pb.Source(),
		Requirements:    req,
		Resume:          pb.Resume(),
		Player:          player.Deps{Options: pb.Player.Options()},
		Persist:         c.ProgressWriter(lessonID),
		ProgressOptions: []progress.Option{progress.WithTrustInferred(pb.Player.TrustInferredProgress)},
		Backend:         c.Lesson(lessonID),
	}, nil
}

func lessonPath(lessonID, action string) string {
	return "/api/lessons/" + url.PathEscape(lessonID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{Status: resp.StatusCode, Message: gjson.GetBytes(raw, "error").String()}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
