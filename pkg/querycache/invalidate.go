package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Event is a record-write notification published by the service (or another
// writer) used to drop stale cached pages for a layer.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	IDs     []string  `json:"ids,omitempty"`
	TS      time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

type InvalidatorConfig struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func (c *InvalidatorConfig) defaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 10 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 60 * time.Second
	}
}

// Invalidator consumes write events and invalidates the affected layer.
type Invalidator struct {
	cfg   InvalidatorConfig
	log   *slog.Logger
	store Store
}

func NewInvalidator(cfg InvalidatorConfig, log *slog.Logger, store Store) *Invalidator {
	if log == nil {
		log = slog.Default()
	}
	cfg.defaults()
	return &Invalidator{cfg: cfg, log: log, store: store}
}

// Start consumes until ctx is cancelled. Consumer errors are logged and the
// group rejoined after a short pause.
func (i *Invalidator) Start(ctx context.Context) error {
	if i.store == nil {
		return errors.New("querycache: invalidator needs a store")
	}
	if len(i.cfg.Brokers) == 0 || i.cfg.Topic == "" || i.cfg.GroupID == "" {
		return errors.New("querycache: invalidator needs brokers, topic and group")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = i.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = i.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = i.cfg.RebalanceTimeout
	if i.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(i.cfg.Brokers, i.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("querycache: create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: i.processOne}

	i.log.Info("cache invalidation consumer starting",
		"brokers", i.cfg.Brokers, "topic", i.cfg.Topic, "group", i.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			i.log.Info("cache invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{i.cfg.Topic}, handler); err != nil {
				i.log.Error("invalidation consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

func (i *Invalidator) processOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// poison messages are logged and skipped, never block the partition
		i.log.Warn("invalidation event decode failed", "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		i.log.Warn("invalidation event invalid", "offset", msg.Offset, "err", err)
		return nil
	}
	i.store.Invalidate(ctx, ev.Layer)
	i.log.Debug("layer invalidated", "layer", ev.Layer, "op", ev.Op)
	return nil
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
