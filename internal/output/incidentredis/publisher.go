package incidentredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fleetwatch/internal/logger"
	"fleetwatch/pkg/models"
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Publisher pushes serialized incidents onto a Redis list for downstream
// consumers (store writers, dashboards).
type Publisher struct {
	client *redis.Client
	key    string
}

// NewPublisher creates a Redis incident publisher.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis incident key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis incident output: %w", err)
	}

	logger.Infof("Incident Redis publisher initialized: %s (%s)", cfg.Addr, cfg.Key)
	return &Publisher{client: client, key: cfg.Key}, nil
}

// WriteIncidents pushes a batch of incidents in one pipeline round trip.
func (p *Publisher) WriteIncidents(incidents []models.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	ctx := context.Background()
	pipe := p.client.Pipeline()
	for i := range incidents {
		payload, err := json.Marshal(&incidents[i])
		if err != nil {
			return fmt.Errorf("marshal incident %s: %w", incidents[i].IncidentID, err)
		}
		pipe.RPush(ctx, p.key, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push incidents to redis: %w", err)
	}
	return nil
}

// Close closes Redis resources.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
