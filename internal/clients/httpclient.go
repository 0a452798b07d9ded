// Package clients holds the HTTP plumbing shared by outbound service clients.
package clients

import (
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPConfig tunes an outbound client.
type HTTPConfig struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Tracing      bool
}

// DefaultHTTPConfig returns conservative settings for calls inside the saga.
func DefaultHTTPConfig(timeout time.Duration) HTTPConfig {
	return HTTPConfig{
		Timeout:      timeout,
		RetryMax:     2,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: time.Second,
	}
}

// NewRetryableClient builds a pooled client that retries connection errors,
// 429 and 5xx responses. Once retries are exhausted the last response is
// returned to the caller instead of an error.
func NewRetryableClient(cfg HTTPConfig, logger zerolog.Logger) *retryablehttp.Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Timeout
	if cfg.Tracing {
		hc.Transport = otelhttp.NewTransport(hc.Transport)
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = hc
	c.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		c.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		c.RetryWaitMax = cfg.RetryWaitMax
	}
	c.Logger = leveledLogger{logger: logger}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Trace().Fields(kv).Msg(msg) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
