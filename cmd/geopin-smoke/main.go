// geopin-smoke checks connectivity to the pieces a GeoPin client deployment
// depends on: the service (or sandbox), the shared redis query cache and the
// Kafka invalidation topic. Each check is independent; failures are reported
// and the rest still run.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/geopin/geopin-go/pkg/geopin"
	"github.com/geopin/geopin-go/pkg/querycache"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testService(ctx context.Context, baseURL, key, secret string) error {
	fmt.Println("Service test")

	c, err := geopin.New(baseURL, geopin.WithCredentials(key, secret))
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer c.Close()

	call, err := c.Contains(ctx, 59.3293, 18.0686)
	if err != nil {
		return fmt.Errorf("contains: %w", err)
	}
	res, err := call.Wait(ctx)
	if err != nil {
		return fmt.Errorf("contains: %w", err)
	}
	fmt.Printf("contains returned %d boundaries\n", len(res.Array))
	return nil
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	key := querycache.Key("smoke", "https://example/probe")
	if err := client.Set(ctx, key, "probe", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Println("redis round trip: ", val)
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_1_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	event := querycache.Event{
		Version: 1,
		Op:      "update",
		Layer:   "smoke",
		TS:      time.Now().UTC(),
	}
	msgBytes, _ := json.Marshal(event)
	_, _, err = prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Println("produced one invalidation event")
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	baseURL := getenv("GEOPIN_URL", "http://localhost:8091")
	key := getenv("GEOPIN_KEY", "sandbox-key")
	secret := getenv("GEOPIN_SECRET", "sandbox-secret")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "geopin-invalidation")

	failed := false
	if err := testService(ctx, baseURL, key, secret); err != nil {
		fmt.Println("service check failed:", err)
		failed = true
	}
	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("redis check failed:", err)
		failed = true
	}
	if err := testKafka(brokers, topic); err != nil {
		fmt.Println("kafka check failed:", err)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}
