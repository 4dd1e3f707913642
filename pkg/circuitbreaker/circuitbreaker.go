// Package circuitbreaker защищает вызовы внешнего платёжного процессора
// от каскадных сбоев. Пока breaker открыт, вызовы отклоняются мгновенно
// с ErrUnavailable, и вебхук получает retryable ответ вместо зависшего запроса.
//
//	cb := circuitbreaker.New("stripe", circuitbreaker.DefaultSettings())
//	pi, err := circuitbreaker.Execute(ctx, cb, func(ctx context.Context) (*stripe.PaymentIntent, error) {
//	    return client.V1PaymentIntents.Retrieve(ctx, id, nil)
//	})
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/payment-reconciler/pkg/logger"
)

// ErrUnavailable возвращается, когда breaker открыт или полуоткрыт и лимит пробных запросов исчерпан.
var ErrUnavailable = errors.New("внешний сервис временно недоступен (circuit breaker)")

// Settings - настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // запросов в Half-Open
	Interval     time.Duration // сброс счётчиков в Closed
	Timeout      time.Duration // время в Open до перехода в Half-Open
	FailureRatio float64
	MinRequests  uint32

	// IsFailure решает, считается ли ошибка сбоем сервиса.
	// Отказ банка по карте - ответ процессора, а не его недоступность.
	// nil - любая ошибка считается сбоем.
	IsFailure func(err error) bool
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker - обёртка над gobreaker с логированием смены состояния.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт Breaker.
func New(name string, s Settings) *Breaker {
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = func(error) bool { return true }
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !isFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ, вызовы процессора отклоняются")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ, пробный запрос")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ, процессор доступен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Execute выполняет fn через breaker. Ошибка fn возвращается как есть,
// отказ самого breaker - как ErrUnavailable.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	res, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Ctx(ctx).Warn().Str("breaker", b.name).Msg("Вызов отклонён circuit breaker")
		return zero, ErrUnavailable
	}
	if err != nil {
		return zero, err
	}

	v, _ := res.(T)
	return v, nil
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
