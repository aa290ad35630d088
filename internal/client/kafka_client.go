package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"rule-persistence/internal/config"
	"rule-persistence/internal/util"
)

const kafkaDialTimeout = 5 * time.Second

type KafkaProducer struct {
	Writer *kafka.Writer
	config *config.KafkaConfig
	tls    *tls.Config
	logger *zap.Logger
}

// kafkaTLSConfig returns nil in development, where brokers run in plaintext.
func kafkaTLSConfig(cfg *config.Config) *tls.Config {
	if cfg.IsDevelopment() {
		return nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	producer, err := newKafkaProducer(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), kafkaDialTimeout)
	defer cancel()
	if err := producer.HealthCheck(ctx); err != nil {
		_ = producer.Writer.Close()
		return nil, fmt.Errorf("failed to connect to Kafka brokers: %w", err)
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("offender_topic", cfg.Kafka.OffenderTopic),
		zap.Bool("tls", producer.tls != nil),
	)

	return producer, nil
}

// newKafkaProducer builds the writer without contacting the brokers.
func newKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	tlsConfig := kafkaTLSConfig(cfg)

	writer := &kafka.Writer{
		Addr: kafka.TCP(kafkaConfig.Brokers...),
		Transport: &kafka.Transport{
			DialTimeout: kafkaDialTimeout,
			TLS:         tlsConfig,
		},
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchBytes:             1048576, // 1MB
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: !cfg.IsProduction(),
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write kafka messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}

	return &KafkaProducer{
		Writer: writer,
		config: &kafkaConfig,
		tls:    tlsConfig,
		logger: logger,
	}, nil
}

func (p *KafkaProducer) Close() error {
	if p.Writer != nil {
		if err := p.Writer.Close(); err != nil {
			util.Error("failed to close Kafka producer", zap.Error(err))
			return err
		}
		util.Info("Kafka producer closed")
	}
	return nil
}

// ProduceMessages writes msgs in one call; they share the writer's batching.
func (p *KafkaProducer) ProduceMessages(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.Writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}

	util.Debug("Produced kafka messages",
		zap.String("topic", msgs[0].Topic),
		zap.Int("count", len(msgs)),
	)
	return nil
}

// dialer matches the writer's transport so the health check sees what
// producing sees.
func (p *KafkaProducer) dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:   kafkaDialTimeout,
		DualStack: true,
		TLS:       p.tls,
	}
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	conn, err := p.dialer().DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("failed to read Kafka partitions: %w", err)
	}
	return nil
}
