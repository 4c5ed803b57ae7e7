// Package config loads typed configuration from the process environment.
//
// Each component of the daemon declares its own small struct with env tags
// and loads it independently of the others:
//
//	type WorkerConfig struct {
//	    PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
//	    Concurrency  int           `env:"QUEUE_CONCURRENCY" envDefault:"4"`
//	    DatabaseURL  string        `env:"DATABASE_URL,required"`
//	}
//
//	_ = config.LoadEnv() // .env is a development convenience, absence is fine
//
//	var cfg WorkerConfig
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Load parses each type once and serves every later call from a process-wide
// cache, so two components loading the same struct always agree on its
// values. Tests that vary the environment between loads use Reload or Reset.
//
// Parsing is delegated to github.com/caarlos0/env, env file reading to
// github.com/joho/godotenv.
package config
