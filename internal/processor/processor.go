// Package processor runs the forwarder: queue consumers feed a worker pool
// that hands each entry to a Processor.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/queue"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/prom"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
	"github.com/nimasrn/sms-forwarder/pkg/worker"
	"github.com/pkg/errors"
)

const (
	DefaultProcessingTimeout = 10 * time.Second
	HealthInterval           = 30 * time.Second
	MetricsInterval          = 30 * time.Second
	ShutdownTimeout          = 30 * time.Second
	highLagThreshold         = 10000
)

type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue queue.QueueConfig
	// Consumers is the number of queue consumers sharing the group.
	Consumers         int
	Workers           int
	ProcessingTimeout time.Duration
}

type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	log       logger.Logger
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, config ServiceConfig, l logger.Logger) *ProcessorService {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = DefaultProcessingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: adapter,
		config:  config,
		log:     l,
		metrics: NewServiceMetrics(),
		worker:  worker.NewWorkerManager(config.Workers*4, config.Workers, nil),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *ProcessorService) RegisterProcessor(p Processor) {
	s.processor = p
	s.log.Info("[processor] registered", "type", p.GetType())
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *ProcessorService) Start() error {
	if s.processor == nil {
		return errors.New("no processor registered")
	}

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			s.log.Error("[processor] worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, qc, s.log)
		if err != nil {
			return errors.Wrapf(err, "create consumer %d", i)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return errors.Wrapf(err, "start consumer %d", i)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.every(MetricsInterval, s.reportMetrics)
	go s.every(HealthInterval, s.performHealthCheck)

	s.log.Info("[processor] started", "queue", s.config.Queue.Name, "consumers", len(s.queues), "workers", s.config.Workers)
	return nil
}

func (s *ProcessorService) every(d time.Duration, fn func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	st := s.metrics.Snapshot()
	s.log.Info("[processor] metrics",
		"processed", st.Processed,
		"failed", st.Failed,
		"rate_per_second", st.RatePerSecond,
		"avg_duration_ms", st.AvgDuration.Milliseconds(),
		"uptime_seconds", st.Uptime.Seconds())

	if len(s.queues) == 0 {
		return
	}
	if qs, err := s.queues[0].GetStats(s.ctx); err == nil {
		prom.SetQueueDepth(prom.QueueTotal, qs.TotalMessages)
		prom.SetQueueDepth(prom.QueuePending, qs.PendingMessages)
		prom.SetQueueDepth(prom.QueueDead, qs.DeadLetters)
		s.log.Info("[processor] queue", "total", qs.TotalMessages, "pending", qs.PendingMessages, "dead_letters", qs.DeadLetters)
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Ping(s.ctx); err != nil {
		s.log.Error("[processor] health check: redis unreachable", "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	qs, err := s.queues[0].GetStats(s.ctx)
	if err != nil {
		s.log.Warn("[processor] health check: queue stats unavailable", "error", err)
		return
	}
	if qs.PendingMessages > highLagThreshold {
		s.log.Warn("[processor] health check: high lag", "pending", qs.PendingMessages)
	}
}

func (s *ProcessorService) Stop() {
	s.log.Info("[processor] shutting down")
	s.cancel()

	var qwg sync.WaitGroup
	for i, q := range s.queues {
		qwg.Add(1)
		go func(i int, q *queue.Queue) {
			defer qwg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				s.log.Error("[processor] consumer stop", "consumer", i, "error", err)
			}
		}(i, q)
	}
	qwg.Wait()

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	s.log.Info("[processor] stopped")
}

type job struct {
	ctx    context.Context
	msg    *queue.Message
	result chan error
}

// messageHandler hands the entry to the pool and waits for its verdict so
// the queue can ack or leave it pending.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	j := &job{ctx: ctx, msg: msg, result: make(chan error, 1)}
	if err := s.worker.Enqueue(ctx, j); err != nil {
		return errors.Wrap(err, "enqueue")
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for worker")
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, v interface{}) {
	j, ok := v.(*job)
	if !ok {
		s.log.Error("[processor] unexpected job type", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		j.result <- j.ctx.Err()
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.msg)
	if err != nil {
		s.metrics.RecordFailure()
		s.log.Warn("[processor] process failed", "worker", workerIndex, "queue_id", j.msg.ID, "attempts", j.msg.Attempts, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}
	// result is buffered, so a timed out handler never blocks the worker
	j.result <- err
}
