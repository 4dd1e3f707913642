package scheduler

import (
	"context"
	"time"

	"example.com/payment-reconciler/pkg/logger"
)

// Worker запускает пакет списаний по таймеру внутри API процесса.
type Worker struct {
	scheduler *Scheduler
	interval  time.Duration
	now       func() time.Time
}

// NewWorker создаёт Worker.
func NewWorker(s *Scheduler, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Worker{scheduler: s, interval: interval, now: time.Now}
}

// Run выполняет пакет сразу и затем каждые interval до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.With().Str("worker", "installments").Logger()
	log.Info().Dur("interval", w.interval).Msg("Запуск планировщика рассрочки")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.scheduler.RunOnce(ctx, w.now().UTC()); err != nil {
			log.Error().Err(err).Msg("Ошибка пакета списаний рассрочки")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка планировщика рассрочки")
			return
		case <-ticker.C:
		}
	}
}
