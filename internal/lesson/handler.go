package lesson

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/auth"
	"github.com/lessongate/lessongate/internal/completion"
	"github.com/lessongate/lessongate/internal/database"
	"github.com/lessongate/lessongate/internal/gate"
	"github.com/lessongate/lessongate/internal/httputil"
	"github.com/lessongate/lessongate/internal/player"
	"github.com/lessongate/lessongate/internal/progress"
	"github.com/lessongate/lessongate/internal/provider"
	"github.com/lessongate/lessongate/internal/webhook"
)

const webhookTimeout = 30 * time.Second

type VideoStorage interface {
	VideoURL(ctx context.Context, key string) (string, error)
}

type EventNotifier interface {
	Notify(ctx context.Context, programID string, event webhook.Event) error
}

type Handler struct {
	repo         *Repository
	progress     *progress.Store
	requirements RequirementsSource
	cache        *CachedRequirements
	storage      VideoStorage
	webhooks     EventNotifier
	settings     PlayerSettings
	clock        clockwork.Clock
}

// PlayerSettings tell the page how to run its session. Zero durations mean
// the player defaults.
type PlayerSettings struct {
	SampleIntervalMs      int64 `json:"sampleIntervalMs,omitempty"`
	ResumeGuardMs         int64 `json:"resumeGuardMs,omitempty"`
	FocusDwellMs          int64 `json:"focusDwellMs,omitempty"`
	AssumedDurationMs     int64 `json:"assumedDurationMs,omitempty"`
	TrustInferredProgress bool  `json:"trustInferredProgress"`
}

func NewPlayerSettings(opts player.Options, trustInferred bool) PlayerSettings {
	return PlayerSettings{
		SampleIntervalMs:      opts.SampleInterval.Milliseconds(),
		ResumeGuardMs:         opts.ResumeGuard.Milliseconds(),
		FocusDwellMs:          opts.FocusDwell.Milliseconds(),
		AssumedDurationMs:     opts.AssumedDuration.Milliseconds(),
		TrustInferredProgress: trustInferred,
	}
}

func NewHandler(db database.DBTX) *Handler {
	repo := NewRepository(db)
	return &Handler{
		repo:         repo,
		progress:     progress.NewStore(db),
		requirements: repo,
		settings:     PlayerSettings{TrustInferredProgress: true},
		clock:        clockwork.NewRealClock(),
	}
}

// SetStorage enables presigned links for lessons whose video lives in the
// bucket. Without it those lessons play nothing.
func (h *Handler) SetStorage(s VideoStorage) {
	h.storage = s
}

func (h *Handler) SetWebhooks(n EventNotifier) {
	h.webhooks = n
}

func (h *Handler) SetRequirementsCache(client RedisClient, ttl time.Duration) {
	h.cache = NewCachedRequirements(h.repo, client, ttl)
	h.requirements = h.cache
}

func (h *Handler) SetPlayerSettings(s PlayerSettings) {
	h.settings = s
}

func (h *Handler) SetClock(clock clockwork.Clock) {
	h.clock = clock
}

type detectResponse struct {
	Provider  provider.Provider `json:"provider"`
	VideoID   string            `json:"videoId,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	Segmented bool              `json:"segmented"`
	Delivery  provider.Delivery `json:"delivery"`
}

func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	p := provider.Detect(rawURL, provider.Provider(r.URL.Query().Get("hint")))
	segmented := p == provider.DirectFile && provider.NeedsSegmentedDelivery(rawURL)
	id, _ := provider.VideoID(p, rawURL)

	httputil.WriteJSON(w, http.StatusOK, detectResponse{
		Provider:  p,
		VideoID:   id,
		Origin:    provider.Origin(p),
		Segmented: segmented,
		Delivery:  provider.ChooseDelivery(p, segmented, r.UserAgent()),
	})
}

type playbackResponse struct {
	LessonID         string            `json:"lessonId"`
	Provider         provider.Provider `json:"provider"`
	Delivery         provider.Delivery `json:"delivery"`
	URL              string            `json:"url,omitempty"`
	VideoID          string            `json:"videoId,omitempty"`
	Origin           string            `json:"origin,omitempty"`
	Segmented        bool              `json:"segmented"`
	DurationSeconds  float64           `json:"durationSeconds,omitempty"`
	ResumePositionMs int64             `json:"resumePositionMs"`
	WatchedPercent   float64           `json:"watchedPercent"`
	Player           PlayerSettings    `json:"player"`
}

func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	learnerID := auth.LearnerIDFromContext(r.Context())

	video, err := h.repo.Video(r.Context(), lessonID)
	if err != nil {
		writeLookupError(w, "playback", lessonID, err)
		return
	}

	resp := playbackResponse{
		LessonID:        lessonID,
		Provider:        provider.None,
		DurationSeconds: video.DurationSeconds,
		Player:          h.settings,
	}

	sourceURL := video.URL
	switch {
	case video.StorageKey != "" && h.storage != nil:
		signed, err := h.storage.VideoURL(r.Context(), video.StorageKey)
		if err != nil {
			slog.Error("lesson: presign video failed", "lesson_id", lessonID, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "could not prepare video")
			return
		}
		resp.Provider = provider.DirectFile
		resp.URL = signed
		sourceURL = video.StorageKey
	case video.URL != "":
		resp.Provider = provider.Detect(video.URL, provider.Provider(video.ProviderHint))
		if resp.Provider != provider.None {
			resp.URL = video.URL
		}
	}

	segmented := resp.Provider == provider.DirectFile && provider.NeedsSegmentedDelivery(sourceURL)
	resp.Segmented = segmented
	resp.Delivery = provider.ChooseDelivery(resp.Provider, segmented, r.UserAgent())
	resp.VideoID, _ = provider.VideoID(resp.Provider, video.URL)
	resp.Origin = provider.Origin(resp.Provider)

	st, err := h.progress.Load(r.Context(), lessonID, learnerID)
	if err != nil {
		slog.Error("lesson: load progress failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load progress")
		return
	}
	resp.ResumePositionMs = st.LastPositionMs
	resp.WatchedPercent = st.WatchedPercent

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type progressRequest struct {
	WatchedPercent float64 `json:"watchedPercent"`
	PositionMs     int64   `json:"positionMs"`
}

type progressResponse struct {
	WatchedPercent float64 `json:"watchedPercent"`
	Milestones     []int   `json:"milestones,omitempty"`
}

// PutProgress is the persistence target for the player. The store ratchets,
// so a stale write returns the higher stored percent unchanged.
func (h *Handler) PutProgress(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	learnerID := auth.LearnerIDFromContext(r.Context())

	var body progressRequest
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.WatchedPercent < 0 || body.WatchedPercent > 100 {
		httputil.WriteError(w, http.StatusBadRequest, "watchedPercent must be between 0 and 100")
		return
	}

	programID, err := h.repo.ProgramID(r.Context(), lessonID)
	if err != nil {
		writeLookupError(w, "progress", lessonID, err)
		return
	}

	prev, cur, err := h.progress.Save(r.Context(), lessonID, learnerID, body.WatchedPercent, body.PositionMs)
	if err != nil {
		slog.Error("lesson: save progress failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not save progress")
		return
	}

	var recorded []int
	for _, m := range progress.CrossedMilestones(prev, cur) {
		first, err := h.progress.RecordMilestone(r.Context(), lessonID, learnerID, m)
		if err != nil {
			slog.Error("lesson: record milestone failed", "lesson_id", lessonID, "milestone", m, "error", err)
			continue
		}
		if !first {
			continue
		}
		recorded = append(recorded, m)
		h.dispatch(programID, webhook.LessonMilestone(h.clock.Now(), lessonID, learnerID, m))
	}

	httputil.WriteJSON(w, http.StatusOK, progressResponse{WatchedPercent: cur, Milestones: recorded})
}

type gatesResponse struct {
	Requirements   gate.Requirements `json:"requirements"`
	WatchedPercent float64           `json:"watchedPercent"`
	Gates          gate.Gates        `json:"gates"`
	Blocking       []gate.Reason     `json:"blocking"`
	Message        string            `json:"message,omitempty"`
	Completed      bool              `json:"completed"`
}

func (h *Handler) Gates(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	learnerID := auth.LearnerIDFromContext(r.Context())

	req, watched, ok := h.evaluateInputs(w, r, lessonID, learnerID)
	if !ok {
		return
	}
	done, err := h.repo.IsCompleted(r.Context(), lessonID, learnerID)
	if err != nil {
		slog.Error("lesson: load completion failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load completion")
		return
	}

	g := gate.Evaluate(req, watched)
	blocking := gate.Blocking(g)
	if blocking == nil {
		blocking = []gate.Reason{}
	}
	httputil.WriteJSON(w, http.StatusOK, gatesResponse{
		Requirements:   req,
		WatchedPercent: watched,
		Gates:          g,
		Blocking:       blocking,
		Message:        gate.BlockingMessage(req, g),
		Completed:      done,
	})
}

type completeResponse struct {
	completion.Result
	Completed bool `json:"completed"`
}

// Complete re-evaluates the gates from stored state before recording
// completion. Completing twice is not an error.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	learnerID := auth.LearnerIDFromContext(r.Context())

	req, watched, ok := h.evaluateInputs(w, r, lessonID, learnerID)
	if !ok {
		return
	}
	g := gate.Evaluate(req, watched)
	if !g.All {
		httputil.WriteError(w, http.StatusConflict, gate.BlockingMessage(req, g))
		return
	}

	programID, err := h.repo.ProgramID(r.Context(), lessonID)
	if err != nil {
		writeLookupError(w, "complete", lessonID, err)
		return
	}

	first, err := h.repo.MarkComplete(r.Context(), lessonID, learnerID)
	if err != nil {
		slog.Error("lesson: mark complete failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not record completion")
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), lessonID, learnerID)
	}

	result := h.nextResult(r.Context(), lessonID)
	if first {
		h.dispatch(programID, webhook.LessonCompleted(h.clock.Now(), lessonID, learnerID, result.NextLessonID))
	}

	httputil.WriteJSON(w, http.StatusOK, completeResponse{Result: result, Completed: true})
}

func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	if _, err := h.repo.ProgramID(r.Context(), lessonID); err != nil {
		writeLookupError(w, "next", lessonID, err)
		return
	}

	next, found, err := h.repo.NextLesson(r.Context(), lessonID)
	if err != nil {
		slog.Error("lesson: next lesson lookup failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load next lesson")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resultFor(next, found))
}

// nextResult never fails: a lookup error presents the program as finished.
func (h *Handler) nextResult(ctx context.Context, lessonID string) completion.Result {
	next, found, err := h.repo.NextLesson(ctx, lessonID)
	if err != nil {
		slog.Error("lesson: next lesson lookup failed", "lesson_id", lessonID, "error", err)
	}
	return resultFor(next, found)
}

func resultFor(next string, found bool) completion.Result {
	if !found {
		return completion.Result{Presentation: completion.ProgramFinished}
	}
	return completion.Result{Presentation: completion.HasNextLesson, NextLessonID: next}
}

func (h *Handler) evaluateInputs(w http.ResponseWriter, r *http.Request, lessonID, learnerID string) (gate.Requirements, float64, bool) {
	req, err := h.requirements.Requirements(r.Context(), lessonID, learnerID)
	if err != nil {
		writeLookupError(w, "requirements", lessonID, err)
		return gate.Requirements{}, 0, false
	}
	st, err := h.progress.Load(r.Context(), lessonID, learnerID)
	if err != nil {
		slog.Error("lesson: load progress failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load progress")
		return gate.Requirements{}, 0, false
	}
	return req, st.WatchedPercent, true
}

func (h *Handler) dispatch(programID string, event webhook.Event) {
	if h.webhooks == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := h.webhooks.Notify(ctx, programID, event); err != nil {
			slog.Error("lesson: webhook dispatch failed", "program_id", programID, "event", event.Name, "error", err)
		}
	}()
}

func lessonParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	lessonID := chi.URLParam(r, "lessonID")
	if _, err := uuid.Parse(lessonID); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid lesson id")
		return "", false
	}
	return lessonID, true
}

func writeLookupError(w http.ResponseWriter, op, lessonID string, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "lesson not found")
		return
	}
	slog.Error("lesson: "+op+" lookup failed", "lesson_id", lessonID, "error", err)
	httputil.WriteError(w, http.StatusInternalServerError, "could not load lesson")
}
