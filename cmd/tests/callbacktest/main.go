package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/lucidlens/server/internal/callbacks"
	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/payment"
)

// deliverer is implemented by the retrying callback client.
type deliverer interface {
	Deliver(ctx context.Context, event callbacks.EntitlementEvent) error
}

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	userID := flag.String("user", "callback-test-user", "user id carried by the synthetic event")
	orderID := flag.String("order", "order_callbacktest", "order id carried by the synthetic event")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Callbacks.EntitlementGrantedURL == "" {
		log.Fatalf("callbacks.entitlement_granted_url is not configured")
	}

	client, ok := callbacks.NewRetryableClient(cfg.Callbacks).(deliverer)
	if !ok {
		log.Fatalf("callback client cannot deliver synchronously")
	}

	event := callbacks.EntitlementEvent{
		UserID:    *userID,
		Source:    callbacks.SourcePayment,
		OrderID:   *orderID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		GrantedAt: time.Now().UTC(),
	}
	if err := client.Deliver(context.Background(), event); err != nil {
		log.Fatalf("send callback: %v", err)
	}

	fmt.Println("callback delivered to", cfg.Callbacks.EntitlementGrantedURL)
}
