package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cache         sync.Map // reflect.Type -> *entry
	defaultEnvOne sync.Once
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. With no paths it reads ./.env.
func LoadEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// MustLoadEnv is LoadEnv that panics on error.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(err)
	}
}

// Load parses the environment into v. Each type is parsed once per process;
// later calls copy the cached value. A missing ./.env is not an error.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	defaultEnvOne.Do(func() { _ = godotenv.Load() })

	key := reflect.TypeFor[T]()
	raw, _ := cache.LoadOrStore(key, &entry{})
	e := raw.(*entry)
	e.once.Do(func() {
		parsed, err := Parse[T]()
		if err != nil {
			e.err = err
			return
		}
		e.value = parsed
	})
	if e.err != nil {
		// Let a later call retry once the environment is fixed.
		cache.CompareAndDelete(key, e)
		return e.err
	}
	*v = e.value.(T)
	return nil
}

// MustLoad is Load that panics on error.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load %s configuration: %v", reflect.TypeFor[T](), err))
	}
}

// Parse parses the environment into a new T without caching.
func Parse[T any]() (T, error) {
	v, err := env.ParseAs[T]()
	if err != nil {
		return v, errors.Join(ErrParsingConfig, err)
	}
	return v, nil
}

// ResetCache forgets every loaded configuration.
func ResetCache() {
	cache.Clear()
}
