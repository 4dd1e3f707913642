package kafka

import (
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"example.com/payment-reconciler/pkg/logger"
)

// TopicSpec описывает топик для автосоздания.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

// DefaultPaymentTopics возвращает топики, которые использует сервис платежей.
func DefaultPaymentTopics() []TopicSpec {
	return []TopicSpec{
		{Name: TopicPaymentEvents, Partitions: 6, ReplicationFactor: 1},
		{Name: TopicEmailRequests, Partitions: 3, ReplicationFactor: 1},
		{Name: TopicInvoiceRender, Partitions: 3, ReplicationFactor: 1},
		{Name: TopicDLQ, Partitions: 1, ReplicationFactor: 1},
	}
}

// EnsureTopics создаёт отсутствующие топики через контроллер кластера.
// Уже существующие топики не считаются ошибкой.
func EnsureTopics(brokers []string, topics []TopicSpec) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("ошибка подключения к Kafka: %w", err)
	}
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка получения контроллера Kafka: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer func() { _ = controllerConn.Close() }()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("ошибка создания топиков: %w", err)
	}

	logger.Info().Int("count", len(configs)).Msg("Топики Kafka проверены")
	return nil
}

// Ping проверяет доступность хотя бы одного брокера (для /readyz).
func Ping(brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.Dial("tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("не указаны брокеры Kafka")
	}
	return fmt.Errorf("kafka недоступна: %w", lastErr)
}
