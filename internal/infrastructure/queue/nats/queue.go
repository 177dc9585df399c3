package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

// Queue publishes and consumes document processing jobs over core NATS.
// Consumers join the "workers" queue group so a job is handled by exactly
// one worker instance.
type Queue struct {
	conn        *nats.Conn
	subject     string
	executor    *resilience.Executor
	concurrency int
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Concurrency          int
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	conn, err := nats.Connect(
		url,
		nats.Name("ledgerdocs"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:        conn,
		subject:     subject,
		executor:    options.ResilienceExecutor,
		concurrency: concurrency,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishJob(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeJobs consumes jobs with a bounded pool of worker goroutines and
// blocks until ctx is done. In-flight jobs run to completion during drain;
// messages that fail to decode are logged and dropped.
func (q *Queue) SubscribeJobs(ctx context.Context, handler func(context.Context, domain.Job) error) error {
	msgs := make(chan *nats.Msg, q.concurrency)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg := <-msgs:
					q.dispatch(ctx, msg, handler)
				case <-stop:
					for {
						select {
						case msg := <-msgs:
							q.dispatch(ctx, msg, handler)
						default:
							return
						}
					}
				}
			}
		}()
	}

	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		close(stop)
		wg.Wait()
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		close(stop)
		wg.Wait()
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		close(stop)
		wg.Wait()
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		close(stop)
		wg.Wait()
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	close(stop)
	wg.Wait()
	return nil
}

func (q *Queue) dispatch(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.Job) error) {
	var job domain.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		log.Printf("drop malformed job payload: %v", err)
		return
	}

	// In-flight jobs survive shutdown: they finish under a detached context
	// so the drain above can wait for them.
	handlerCtx := context.WithoutCancel(ctx)
	if err := handler(handlerCtx, job); err != nil {
		log.Printf("worker handler error for doc=%s: %v", job.DocumentID, err)
	}
}
