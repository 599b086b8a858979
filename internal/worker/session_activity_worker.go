package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"studybuddy/internal/cache"
	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

// SessionActivityWorker consumes activity events off the queue, bumps the
// session's recency timestamp and drops its cached history. Both effects are
// advisory, so a lost event costs freshness, never correctness.
type SessionActivityWorker struct {
	conn      *amqp.Connection
	sessions  *repository.SessionRepository
	history   *cache.HistoryCache
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionActivityWorker(
	conn *amqp.Connection,
	sessions *repository.SessionRepository,
	history *cache.HistoryCache,
	queueName string,
) *SessionActivityWorker {
	return &SessionActivityWorker{
		conn:      conn,
		sessions:  sessions,
		history:   history,
		queueName: queueName,
	}
}

func (w *SessionActivityWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var activity model.SessionActivity
				if err := json.Unmarshal(d.Body, &activity); err != nil {
					log.Printf("worker decode activity failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.sessions.Touch(activity.SessionID, activity.At); err != nil {
					log.Printf("worker touch session %d failed: %v", activity.SessionID, err)
					_ = d.Nack(false, false)
					continue
				}
				if w.history != nil {
					if err := w.history.DeleteHistory(workerCtx, activity.SessionID); err != nil {
						log.Printf("worker drop history cache for session %d failed: %v", activity.SessionID, err)
					}
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *SessionActivityWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
