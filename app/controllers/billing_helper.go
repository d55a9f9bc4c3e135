package controllers

import (
	"github.com/attune-health/attune/internal/pkg/database"
	"github.com/attune-health/attune/internal/pkg/gateway"
	"github.com/attune-health/attune/internal/pkg/payments"
	"github.com/attune-health/attune/internal/pkg/scheduling"
)

func newWebhookDispatcher() *payments.Dispatcher {
	db := database.GetDB()
	users := payments.NewUserDirectory(db)
	return payments.NewDispatcher(
		gateway.Default(),
		payments.NewIntentStore(db),
		payments.NewSubscriptionStore(db),
		payments.NewEventStore(db),
		payments.NewMailNotifier(users),
		scheduling.New(db),
	)
}

func newSubscriptionManager() *payments.Manager {
	db := database.GetDB()
	return payments.NewManager(
		gateway.Default(),
		payments.NewIntentStore(db),
		payments.NewSubscriptionStore(db),
		payments.NewUserDirectory(db),
		payments.NewRedisStateCache(),
	)
}
