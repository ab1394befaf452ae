package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
)

// PushRequest is a background notification for one user.
type PushRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Pusher requests a push notification. Implementations must not block on
// delivery.
type Pusher interface {
	Push(ctx context.Context, req PushRequest) error
}

// Sender delivers a push notification to the user's devices.
type Sender interface {
	Send(ctx context.Context, req PushRequest) error
}

// PushArgs is the River job carrying one push request.
type PushArgs struct {
	PushRequest
}

func (PushArgs) Kind() string {
	return "chat_push"
}

func (PushArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3}
}

type PushWorker struct {
	river.WorkerDefaults[PushArgs]
	sender Sender
}

func (w *PushWorker) Work(ctx context.Context, job *river.Job[PushArgs]) error {
	if err := w.sender.Send(ctx, job.Args.PushRequest); err != nil {
		return fmt.Errorf("send push to %s: %w", job.Args.UserID, err)
	}
	return nil
}

// Timeout bounds one delivery attempt.
func (w *PushWorker) Timeout(*river.Job[PushArgs]) time.Duration {
	return 15 * time.Second
}

// Queue enqueues push requests as River jobs on the Postgres pool.
type Queue struct {
	client *river.Client[pgx.Tx]
}

func NewQueue(pool *pgxpool.Pool, sender Sender, workers int) (*Queue, error) {
	if workers <= 0 {
		workers = 1
	}
	w := river.NewWorkers()
	river.AddWorker(w, &PushWorker{sender: sender})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: workers},
		},
		Workers: w,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &Queue{client: client}, nil
}

func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

func (q *Queue) Push(ctx context.Context, req PushRequest) error {
	if _, err := q.client.Insert(ctx, PushArgs{PushRequest: req}, nil); err != nil {
		return fmt.Errorf("failed to queue push job: %w", err)
	}
	return nil
}

// WebhookSender POSTs push requests as JSON to a gateway that owns device
// registration and delivery.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, req PushRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %s", resp.Status)
	}
	return nil
}

// LogSender only logs; used when no push gateway is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, req PushRequest) error {
	log.Info().Str("user_id", req.UserID).Str("title", req.Title).Msg("push notification (no gateway configured)")
	return nil
}
