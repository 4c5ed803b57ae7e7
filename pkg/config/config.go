package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// registry holds one parsed copy of every configuration type the process has
// loaded. Entries are stored by value; mutations through a caller's pointer
// never reach the cache.
var registry = struct {
	sync.Mutex
	byType map[reflect.Type]any
}{byType: make(map[reflect.Type]any)}

// Load populates dst from the process environment using the struct's env
// tags. The first Load of a given type parses the environment; every later
// Load of that type is served the cached copy, so all components observe the
// same configuration no matter when they ask.
//
// Env files are never read implicitly. Call LoadEnv first if .env support is
// wanted.
func Load[T any](dst *T) error {
	if dst == nil {
		return ErrNilTarget
	}

	registry.Lock()
	defer registry.Unlock()

	key := keyOf[T]()
	if v, ok := registry.byType[key]; ok {
		*dst = v.(T)
		return nil
	}
	if err := env.Parse(dst); err != nil {
		return errors.Join(ErrParse, err)
	}
	registry.byType[key] = *dst
	return nil
}

// MustLoad is Load for configuration the process cannot start without.
func MustLoad[T any](dst *T) {
	if err := Load(dst); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Reload discards the cached copy of dst's type and parses the environment
// again. Meant for tests that change variables between loads.
func Reload[T any](dst *T) error {
	if dst == nil {
		return ErrNilTarget
	}

	registry.Lock()
	delete(registry.byType, keyOf[T]())
	registry.Unlock()

	return Load(dst)
}

// Reset drops every cached configuration.
func Reset() {
	registry.Lock()
	defer registry.Unlock()
	clear(registry.byType)
}

// LoadEnv reads env files into the process environment. Without arguments it
// reads the default .env from the working directory, filling in only
// variables that are not already set. Explicitly named files are applied in
// order with unconditional writes, so the last file listed wins, including
// over the process environment.
func LoadEnv(paths ...string) error {
	var err error
	if len(paths) == 0 {
		err = godotenv.Load()
	} else {
		err = godotenv.Overload(paths...)
	}
	if err != nil {
		return errors.Join(ErrEnvFile, err)
	}
	return nil
}

// MustLoadEnv is LoadEnv for env files the process cannot start without.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// keyOf resolves the registry key for T without needing a value of it.
func keyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
