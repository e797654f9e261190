package utils

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"sync"
)

// Logf prints consistent server logs.
func Logf(format string, v ...any) {
	log.Printf("[Gombon] "+format, v...)
}

// ErrJSON produces a standard JSON error response.
func ErrJSON(msg string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   msg,
	}
}

// PrettyJSON marshals with indentation.
func PrettyJSON(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

// LimitStr returns a string truncated to n characters with "..." appended if longer.
func LimitStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SyncMap is a generic RWMutex guarded map.
type SyncMap[M ~map[K]V, K comparable, V any] struct {
	mu   sync.RWMutex
	data M
}

func NewSyncMap[M ~map[K]V, K comparable, V any]() *SyncMap[M, K, V] {
	return &SyncMap[M, K, V]{
		data: make(map[K]V),
	}
}

func (m *SyncMap[M, K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// Update runs fn on the current value for key under the write lock and stores the result.
func (m *SyncMap[M, K, V]) Update(key K, fn func(V, bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[key]
	next := fn(cur, ok)
	m.data[key] = next
	return next
}

// DeleteFunc removes every entry for which fn returns true and reports how many were removed.
func (m *SyncMap[M, K, V]) DeleteFunc(fn func(K, V) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, v := range m.data {
		if fn(k, v) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

func (m *SyncMap[M, K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// StringContains checks if s contains any of the substrings in substr.
// An empty substring matches only an empty string. Set sensitive to true for case-sensitive match.
func StringContains(s string, sensitive bool, substr ...string) bool {
	if !sensitive {
		s = strings.ToLower(s)
	}
	for _, sub := range substr {
		if sub == "" && s == "" {
			return true
		}
		if sub == "" {
			continue
		}
		if !sensitive {
			sub = strings.ToLower(sub)
		}
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var nonWordRX = regexp.MustCompile(`[^\p{L}\p{N}']+`)

// Words lower-cases s and splits it on anything that is not a letter, digit or apostrophe.
func Words(s string) []string {
	return strings.Fields(nonWordRX.ReplaceAllString(strings.ToLower(s), " "))
}

// NonNil returns s, or an empty slice when s is nil, so it encodes as [] rather than null.
func NonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
