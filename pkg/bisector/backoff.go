package bisector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type backoffYaml struct {
	Retries int `yaml:"retries" default:"10"`

	// In milliseconds
	Backoff          int `yaml:"backoff" default:"1000"`
	BackoffIncrement int `yaml:"backoffIncrement" default:"100"`
	MaxBackoff       int `yaml:"maxBackoff" default:"2000"`
}

func (b backoffYaml) config() BackoffConfig {
	return BackoffConfig{
		Retries: b.Retries,

		Backoff: time.Duration(b.Backoff) * time.Millisecond,

		BackoffIncrement: time.Duration(b.BackoffIncrement) * time.Millisecond,
		MaxBackoff:       time.Duration(b.MaxBackoff) * time.Millisecond,
	}
}

// BackoffConfig provides configurations for operations which are retried, such as waiting for the docker daemon to become reachable
type BackoffConfig struct {
	Retries int // How many times the operation should be attempted until it is considered to have failed

	Backoff time.Duration // How long to wait between each retry

	BackoffIncrement time.Duration // By how much to increment the backoff on each failed attempt
	MaxBackoff       time.Duration // The maximum duration the backoff may reach after incrementing. When the backoff has reached this value, it won't increase any further
}

// DefaultBackoff is used whenever no backoff config was specified
var DefaultBackoff = BackoffConfig{
	Retries:          10,
	Backoff:          time.Second,
	BackoffIncrement: 100 * time.Millisecond,
	MaxBackoff:       2 * time.Second,
}

// retry calls op until it succeeds, the retries are exhausted or the context is done.
// The error of the last attempt is returned.
func (b BackoffConfig) retry(ctx context.Context, log *logrus.Entry, op func() error) error {
	var lastError error

	attempts := max(b.Retries, 1)
	backoffDuration := b.Backoff
	for i := 0; i < attempts; i++ {
		if lastError = op(); lastError == nil {
			return nil
		}

		// Manage backoff
		if i != attempts-1 {
			if log != nil {
				log.Debugf("Attempt %d of %d failed, retrying in %s - %v", i+1, attempts, backoffDuration, lastError)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDuration):
			}
			backoffDuration += b.BackoffIncrement
			if backoffDuration > b.MaxBackoff {
				backoffDuration = b.MaxBackoff
			}
		}
	}

	return lastError
}
