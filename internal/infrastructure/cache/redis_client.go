// Package cache provides the two-tier constraint cache: an in-process LRU
// in front of an optional shared Redis tier
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("redis circuit breaker is open")

// RedisClient wraps a go-redis client with a circuit breaker so a dead
// Redis costs one fast error per call instead of a dial timeout
type RedisClient struct {
	client  redis.UniversalClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewRedisClient connects to Redis, or to the cluster nodes when cluster
// mode is enabled
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) (*RedisClient, error) {
	opts := &redis.UniversalOptions{
		Addrs:        []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  10 * time.Second,
	}
	if cfg.EnableCluster && len(cfg.ClusterNodes) > 0 {
		opts.Addrs = cfg.ClusterNodes
		logger.Info("Redis cluster mode enabled", zap.Strings("nodes", cfg.ClusterNodes))
	}

	client := NewRedisClientFrom(redis.NewUniversalClient(opts), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis client initialized successfully",
		zap.Strings("addrs", opts.Addrs),
		zap.Int("database", cfg.Database),
	)
	return client, nil
}

// NewRedisClientFrom wraps an existing client without pinging it
func NewRedisClientFrom(client redis.UniversalClient, logger *zap.Logger) *RedisClient {
	return &RedisClient{
		client:  client,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  logger.Named("redis"),
	}
}

// Get returns the value at key. A missing key is (nil, false, nil).
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !r.breaker.AllowRequest() {
		return nil, false, ErrCircuitOpen
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.breaker.RecordSuccess()
		return nil, false, nil
	}
	if err != nil {
		r.breaker.RecordFailure()
		return nil, false, err
	}

	r.breaker.RecordSuccess()
	return data, true, nil
}

// SetNX sets key only if it does not exist. ttl 0 means no expiry.
func (r *RedisClient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if !r.breaker.AllowRequest() {
		return false, ErrCircuitOpen
	}

	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		r.breaker.RecordFailure()
		return false, err
	}

	r.breaker.RecordSuccess()
	return ok, nil
}

// HealthCheck pings Redis
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.breaker.RecordFailure()
		return err
	}
	r.breaker.RecordSuccess()
	return nil
}

// Close closes the underlying client
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// CircuitState represents circuit breaker states
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker opens after maxFailures consecutive failures and lets one
// probe through once timeout has passed
type CircuitBreaker struct {
	mu              sync.Mutex
	maxFailures     int
	timeout         time.Duration
	failures        int
	lastFailureTime time.Time
	state           CircuitState
	now             func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       CircuitClosed,
		now:         time.Now,
	}
}

// AllowRequest reports whether a call may proceed
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.state = CircuitHalfOpen
			return true
		}
	}
	return false
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.failures >= cb.maxFailures || cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
