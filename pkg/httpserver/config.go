package httpserver

import "time"

// Config describes the operational listener, the small HTTP surface that
// serves health probes and queue administration next to the job-processing
// daemon.
type Config struct {
	Addr            string        `env:"OPS_ADDR" envDefault:":9090"`
	ReadTimeout     time.Duration `env:"OPS_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"OPS_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"OPS_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"OPS_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// NewFromConfig builds a Server from cfg, skipping zero fields so a partial
// Config falls back to the package defaults. Extra options apply on top.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	var fromCfg []Option

	if cfg.Addr != "" {
		fromCfg = append(fromCfg, WithAddr(cfg.Addr))
	}
	if cfg.ReadTimeout > 0 {
		fromCfg = append(fromCfg, WithReadTimeout(cfg.ReadTimeout))
	}
	if cfg.WriteTimeout > 0 {
		fromCfg = append(fromCfg, WithWriteTimeout(cfg.WriteTimeout))
	}
	if cfg.IdleTimeout > 0 {
		fromCfg = append(fromCfg, WithIdleTimeout(cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout > 0 {
		fromCfg = append(fromCfg, WithShutdownTimeout(cfg.ShutdownTimeout))
	}

	return New(append(fromCfg, opts...)...)
}
