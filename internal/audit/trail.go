package audit

/*
Trail — журнал решений аутентификации (кто, каким токеном, куда и с каким результатом).

- Hot Path не блокируется: фильтр только кладет событие в буферизированный канал.
- События копятся и пишутся в хранилище пачками, по таймеру или при достижении лимита.
- При переполнении буфера событие сбрасывается (Load Shedding) с записью в лог.
- Stop закрывает канал и ждет финального flush, поэтому при остановке сервиса ничего не теряется.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// Storage определяет, куда физически будут сохраняться события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuthEvent) error
}

type Auditor interface {
	Log(event AuthEvent)
}

// Options — размеры буфера и период сброса (нулевые значения заменяются дефолтами).
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Trail struct {
	ch        chan AuthEvent
	repo      Storage
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	wg        sync.WaitGroup
	mu        sync.RWMutex // защищает закрытие канала от параллельного Log
	closed    bool
	dropped   atomic.Int64
}

func NewTrail(repo Storage, logger *zap.Logger, opts Options) *Trail {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	return &Trail{
		ch:        make(chan AuthEvent, opts.BufferSize),
		repo:      repo,
		logger:    logger.With(zap.String("mod", "audit")),
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event AuthEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
	default:
		// Backpressure: не блокируем запрос, но оставляем след в логе
		t.dropped.Add(1)
		t.logger.Error("audit_buffer_overflow",
			zap.String("subject", event.Subject),
			zap.String("trace_id", event.TraceID),
			zap.String("outcome", event.Outcome),
		)
	}
}

// Pending — текущее заполнение буфера (для метрик backpressure).
func (t *Trail) Pending() int {
	return len(t.ch)
}

// Dropped — сколько событий сброшено из-за переполнения.
func (t *Trail) Dropped() int64 {
	return t.dropped.Load()
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]AuthEvent, 0, t.batchSize)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст при остановке уже может быть закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// канал закрыт в Stop(): остатки уже вычитаны, делаем финальный сброс
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
