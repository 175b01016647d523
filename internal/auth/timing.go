package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for the authentication timing floor
type TimingConfig struct {
	Floor  time.Duration // Minimum observable duration of a guarded call
	Jitter time.Duration // Extra random delay range added to the floor
}

// TimingFloor pads guarded calls so that every outcome takes at least the
// configured floor. The wait is per-call; other requests keep running.
type TimingFloor struct {
	config TimingConfig
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewTimingFloor creates a new TimingFloor instance
func NewTimingFloor(config TimingConfig) *TimingFloor {
	return &TimingFloor{
		config: config,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Floor returns the configured minimum duration
func (tf *TimingFloor) Floor() time.Duration {
	return tf.config.Floor
}

// cryptoRandIntn returns a secure random number between 0 and max (exclusive)
func cryptoRandIntn(max int64) (int64, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int64(randomValue % uint64(max)), nil
}

func (tf *TimingFloor) target() time.Duration {
	target := tf.config.Floor
	if tf.config.Jitter > 0 {
		if n, err := cryptoRandIntn(int64(tf.config.Jitter)); err == nil {
			target += time.Duration(n)
		}
	}
	return target
}

// waitFrom sleeps until target has elapsed since start
func (tf *TimingFloor) waitFrom(start time.Time, target time.Duration) {
	if elapsed := tf.now().Sub(start); elapsed < target {
		tf.sleep(target - elapsed)
	}
}

// Run calls fn and returns its error no sooner than the floor. The wait is
// deferred, so it also holds when fn panics; the panic continues afterwards.
func (tf *TimingFloor) Run(fn func() error) error {
	start := tf.now()
	target := tf.target()
	defer tf.waitFrom(start, target)

	return fn()
}

// WithFloor is Run for calls that produce a value
func WithFloor[T any](tf *TimingFloor, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	runErr := tf.Run(func() error {
		result, err = fn()
		return err
	})
	return result, runErr
}
