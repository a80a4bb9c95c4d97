package rtm

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DelayStrategy yields the wait before each reconnect attempt. The resilient
// layer carries no backoff policy of its own; strategies compose into the
// connection factory with WithBackoff.
type DelayStrategy interface {
	NextDelay() time.Duration
	Reset()
}

// FixedDelayStrategy waits the same duration before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// NextDelay returns the fixed delay.
func (strategy *FixedDelayStrategy) NextDelay() time.Duration {
	return strategy.Delay
}

// Reset is a no-op for a fixed delay.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay by Factor per attempt up to
// MaxDelay, and returns to BaseDelay on Reset.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
	}
}

// NextDelay returns the delay for the next attempt and advances the counter.
func (strategy *ExponentialDelayStrategy) NextDelay() time.Duration {
	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	delay := time.Duration(float64(strategy.BaseDelay) * math.Pow(strategy.Factor, float64(strategy.attempts)))
	if delay > strategy.MaxDelay || delay < 0 {
		delay = strategy.MaxDelay
	}
	strategy.attempts++
	return delay
}

// Reset returns the strategy to its base delay.
func (strategy *ExponentialDelayStrategy) Reset() {
	strategy.lock.Lock()
	strategy.attempts = 0
	strategy.lock.Unlock()
}

// WithBackoff decorates a factory so every attempt after the first in a
// failure streak waits per strategy before building. A successful start
// resets both the strategy and the streak, so the build that follows a
// healthy session never sleeps.
func WithBackoff(factory ClientFactory, strategy DelayStrategy) ClientFactory {
	attempts := new(atomic.Uint64)
	return func(callback ErrorCallback) LowLevelClient {
		if attempts.Add(1) > 1 {
			time.Sleep(strategy.NextDelay())
		}
		return &backoffClient{
			LowLevelClient: factory(callback),
			strategy:       strategy,
			attempts:       attempts,
		}
	}
}

type backoffClient struct {
	LowLevelClient
	strategy DelayStrategy
	attempts *atomic.Uint64
}

func (client *backoffClient) Start() *ErrorCondition {
	condition := client.LowLevelClient.Start()
	if condition == nil {
		client.strategy.Reset()
		client.attempts.Store(0)
	}
	return condition
}

// WithEndpoints builds a factory that rotates through endpoints across
// attempts, so repeated failures walk the endpoint list round-robin.
func WithEndpoints(config Config, loop *EventLoop, logger *zap.Logger, endpoints ...string) ClientFactory {
	if len(endpoints) == 0 {
		endpoints = []string{config.Endpoint}
	}
	var next atomic.Uint64
	return func(callback ErrorCallback) LowLevelClient {
		attempt := config
		attempt.Endpoint = endpoints[int((next.Add(1)-1)%uint64(len(endpoints)))]
		return newWSClient(attempt, loop, logger, callback)
	}
}
