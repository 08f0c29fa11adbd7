package crosswire

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/golobby/cast"
)

// Feeder populates a settings bag from one source. Implementations live
// in the feeders package (YAML, TOML, environment).
type Feeder interface {
	Feed(into map[string]any) error
}

// Settings is the bag handed to every module's OnStart. The core treats
// it as opaque; modules read it through the typed getters. Keys are
// dotted paths into nested tables ("server.port").
type Settings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSettings returns an empty bag.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]any)}
}

// Feed runs each feeder in order over the bag, merging nested tables.
// Later feeders override earlier values, so environment feeders usually
// come last.
func (s *Settings) Feed(feeders ...Feeder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range feeders {
		if err := f.Feed(s.values); err != nil {
			return fmt.Errorf("feed settings: %w", err)
		}
	}
	return nil
}

// Set stores a value under a dotted key path, creating nested tables as
// needed.
func (s *Settings) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(key, ".")
	node := s.values
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// Get returns the raw value at a dotted key path.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := strings.Split(key, ".")
	var node any = s.values
	for _, p := range parts {
		table, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = table[p]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// GetString returns the value at key converted to a string.
func (s *Settings) GetString(key string) (string, error) {
	return getAs[string](s, key)
}

// GetInt returns the value at key converted to an int.
func (s *Settings) GetInt(key string) (int, error) {
	return getAs[int](s, key)
}

// GetBool returns the value at key converted to a bool.
func (s *Settings) GetBool(key string) (bool, error) {
	return getAs[bool](s, key)
}

// GetFloat returns the value at key converted to a float64.
func (s *Settings) GetFloat(key string) (float64, error) {
	return getAs[float64](s, key)
}

// GetDuration returns the value at key parsed as a time.Duration
// ("250ms", "5s").
func (s *Settings) GetDuration(key string) (time.Duration, error) {
	v, ok := s.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrSettingWrongType, key, err)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("%w: %s is %T, want duration string", ErrSettingWrongType, key, v)
}

func getAs[T any](s *Settings, key string) (T, error) {
	var zero T

	v, ok := s.Get(key)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	converted, err := cast.FromType(fmt.Sprint(v), reflect.TypeOf(zero))
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrSettingWrongType, key, err)
	}
	typed, ok := converted.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrSettingWrongType, key, v)
	}
	return typed, nil
}
