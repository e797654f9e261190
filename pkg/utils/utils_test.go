package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringContains(t *testing.T) {
	assert.True(t, StringContains("My BOSS is mean", false, "boss"))
	assert.False(t, StringContains("My BOSS is mean", true, "boss"))
	assert.True(t, StringContains("", false, ""))
	assert.False(t, StringContains("x", false, ""))
	assert.True(t, StringContains("This is my laptop", false, "hi"))
	assert.True(t, StringContains("peaceful evening", false, "bye", "peace"))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"oh", "hi", "there's"}, Words("Oh, HI there's!"))
	assert.Empty(t, Words(" ... "))
}

func TestLimitStr(t *testing.T) {
	assert.Equal(t, "abc", LimitStr("abc", 3))
	assert.Equal(t, "ab...", LimitStr("abc", 2))
}

func TestSyncMap(t *testing.T) {
	m := NewSyncMap[map[string]int]()
	m.Update("a", func(v int, ok bool) int {
		assert.False(t, ok)
		return v + 1
	})
	m.Update("a", func(v int, ok bool) int {
		assert.True(t, ok)
		return v + 1
	})
	m.Update("b", func(int, bool) int { return 10 })

	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 1, m.DeleteFunc(func(_ string, v int) bool { return v > 5 }))
	assert.Equal(t, 1, m.Len())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	require.NoError(t, Save(path, map[string]int{"count": 3}))

	_, err := os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)

	v, err := Load[map[string]int](path)
	require.NoError(t, err)
	assert.Equal(t, 3, v["count"])

	_, err = Load[map[string]int](filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNonNil(t *testing.T) {
	var s []string
	assert.NotNil(t, NonNil(s))
	assert.Equal(t, []string{"x"}, NonNil([]string{"x"}))
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Positive(t, EstimateTokens("roast me gently"))
}
