package notifications

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/config"
)

// NewNotifierFromConfig builds the configured delivery provider
func NewNotifierFromConfig(ctx context.Context, cfg config.NotificationsConfig, logger *zap.Logger) (Notifier, error) {
	switch cfg.Provider {
	case config.ProviderChat:
		return NewChatNotifier(ChatConfig{
			URL:      cfg.Chat.URL,
			User:     cfg.Chat.User,
			Password: cfg.Chat.Password,
			Method:   cfg.Chat.Method,
		}, cfg.Timeout), nil
	case config.ProviderSNS, config.ProviderSES:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWS.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		if cfg.Provider == config.ProviderSNS {
			return NewSNSNotifier(sns.NewFromConfig(awsCfg)), nil
		}
		return NewSESNotifier(sesv2.NewFromConfig(awsCfg), cfg.AWS.Sender), nil
	case config.ProviderLog:
		return NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unsupported notification provider %q", cfg.Provider)
	}
}

// NewQueueFromConfig builds the configured event queue; client is only used for the redis queue
func NewQueueFromConfig(cfg config.NotificationsConfig, client redis.UniversalClient) (Queue, error) {
	switch cfg.Queue {
	case config.QueueMemory:
		return NewMemoryQueue(cfg.QueueSize), nil
	case config.QueueRedis:
		if client == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		return NewRedisQueue(client, cfg.QueueName), nil
	default:
		return nil, fmt.Errorf("unsupported notification queue %q", cfg.Queue)
	}
}
