// Package dispatch hands verified webhook bodies to background processing
// through a River job queue, so the HTTP handler can acknowledge the sender
// as soon as the delivery is verified and recorded.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/sirupsen/logrus"
)

// QueueName is the River queue webhook events are inserted into.
const QueueName = "inbound_webhooks"

// WebhookEventArgs is the job payload: the verified delivery, body verbatim.
type WebhookEventArgs struct {
	WebhookID string `json:"webhook_id"`
	Timestamp string `json:"timestamp"`
	Body      []byte `json:"body"`
}

func (WebhookEventArgs) Kind() string { return "inbound_webhook_event" }

func (WebhookEventArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueName, MaxAttempts: 10}
}

// Inserter is the part of *river.Client used for enqueueing.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverDispatcher enqueues verified webhook bodies.
type RiverDispatcher struct {
	client Inserter
	log    logrus.FieldLogger
}

func NewRiverDispatcher(client Inserter, log logrus.FieldLogger) *RiverDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RiverDispatcher{client: client, log: log.WithField("component", "dispatch")}
}

// Dispatch inserts one job per delivery.
func (d *RiverDispatcher) Dispatch(ctx context.Context, id, timestamp string, body []byte) error {
	if d.client == nil {
		return errors.New("dispatch: no river client")
	}
	res, err := d.client.Insert(ctx, WebhookEventArgs{WebhookID: id, Timestamp: timestamp, Body: body}, nil)
	if err != nil {
		return fmt.Errorf("dispatch: insert job: %w", err)
	}
	d.log.WithFields(logrus.Fields{"webhook_id": id, "job_id": res.Job.ID}).Debug("webhook event enqueued")
	return nil
}

// Handler processes one verified webhook body.
type Handler func(ctx context.Context, event WebhookEventArgs) error

// Worker runs Handler for each job.
type Worker struct {
	river.WorkerDefaults[WebhookEventArgs]
	handle Handler
	log    logrus.FieldLogger
}

func NewWorker(h Handler, log logrus.FieldLogger) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{handle: h, log: log.WithField("component", "dispatch.worker")}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[WebhookEventArgs]) error {
	entry := w.log.WithFields(logrus.Fields{
		"webhook_id": job.Args.WebhookID,
		"job_id":     job.ID,
		"attempt":    job.Attempt,
	})
	if w.handle == nil {
		entry.Warn("no webhook handler configured; dropping event")
		return nil
	}
	if err := w.handle(ctx, job.Args); err != nil {
		entry.WithError(err).Warn("webhook handler failed")
		return err
	}
	entry.Debug("webhook event processed")
	return nil
}

// NewClient builds a River client on pool. With a nil handler the client is
// insert-only; otherwise it also works the webhook queue.
func NewClient(pool *pgxpool.Pool, h Handler, maxWorkers int, log logrus.FieldLogger) (*river.Client[pgx.Tx], error) {
	cfg := &river.Config{}
	if h != nil {
		if maxWorkers <= 0 {
			maxWorkers = 10
		}
		workers := river.NewWorkers()
		if err := river.AddWorkerSafely(workers, NewWorker(h, log)); err != nil {
			return nil, err
		}
		cfg.Workers = workers
		cfg.Queues = map[string]river.QueueConfig{QueueName: {MaxWorkers: maxWorkers}}
	}
	return river.NewClient(riverpgxv5.New(pool), cfg)
}
