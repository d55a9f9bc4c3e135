package counter

import (
	"context"
	"strconv"

	"github.com/attune-health/attune/internal/pkg/cache"
)

const webhookDeliveriesKey = "billing:counters:webhooks"

// Webhook delivery outcomes tracked per provider.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// AddWebhookDelivery increments the delivery counter for a provider/outcome
// pair in Redis. Counting is best effort; callers ignore the error beyond
// logging.
func AddWebhookDelivery(provider, outcome string) error {
	ctx := context.Background()
	field := provider + ":" + outcome
	return cache.GetClient().HIncrBy(ctx, webhookDeliveriesKey, field, 1).Err()
}

// WebhookDeliverySnapshot returns the current per-provider delivery counts,
// keyed "<provider>:<outcome>".
func WebhookDeliverySnapshot() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, webhookDeliveriesKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// ResetWebhookDeliveries clears all delivery counters.
func ResetWebhookDeliveries() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, webhookDeliveriesKey).Err()
}
