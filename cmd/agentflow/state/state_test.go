package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsReservedKeys(t *testing.T) {
	s := New(map[string]interface{}{"topic": "go"})

	assert.Equal(t, map[string]interface{}{"topic": "go"}, s.Input())
	assert.Equal(t, []interface{}{}, s[KeyMessages])
	assert.Equal(t, map[string]interface{}{}, s[KeyIntermediate])
	assert.Equal(t, "", s.CurrentNode())
	assert.Nil(t, s[KeyOutput])
	assert.Nil(t, s[KeyError])
}

func TestFoldNeverOverwritesInput(t *testing.T) {
	schema := NewSchema(nil)
	s := New(map[string]interface{}{"topic": "go"})

	schema.Fold(s, map[string]interface{}{
		KeyInput: map[string]interface{}{"topic": "rust"},
	})

	assert.Equal(t, "go", s.Input()["topic"])
}

func TestFoldAppendsMessages(t *testing.T) {
	schema := NewSchema(nil)
	s := New(nil)

	schema.Fold(s, map[string]interface{}{KeyMessages: []interface{}{"a"}})
	schema.Fold(s, map[string]interface{}{KeyMessages: []interface{}{"b", "c"}})
	schema.Fold(s, map[string]interface{}{KeyMessages: "d"})

	assert.Equal(t, []interface{}{"a", "b", "c", "d"}, s[KeyMessages])
}

func TestFoldMergesIntermediate(t *testing.T) {
	schema := NewSchema(nil)
	s := New(nil)

	schema.Fold(s, map[string]interface{}{
		KeyIntermediate: map[string]interface{}{"research": "facts"},
	})
	schema.Fold(s, map[string]interface{}{
		KeyIntermediate: map[string]interface{}{"write": "draft"},
	})

	assert.Equal(t, map[string]interface{}{
		"research": "facts",
		"write":    "draft",
	}, s.Intermediate())
}

func TestFoldLastWriteWins(t *testing.T) {
	schema := NewSchema(nil)
	s := New(nil)

	schema.Fold(s, map[string]interface{}{KeyOutput: "first", KeyCurrentNode: "a"})
	schema.Fold(s, map[string]interface{}{KeyOutput: "second", KeyCurrentNode: "b"})

	assert.Equal(t, "second", s[KeyOutput])
	assert.Equal(t, "b", s.CurrentNode())
}

func TestSchemaDeclaredKinds(t *testing.T) {
	schema := NewSchema(map[string]interface{}{
		"findings": map[string]interface{}{"type": "array"},
		"scores":   map[string]interface{}{"type": "object"},
		"title":    map[string]interface{}{"type": "string"},
	})

	assert.Equal(t, KindAppend, schema.Kind("findings"))
	assert.Equal(t, KindMerge, schema.Kind("scores"))
	assert.Equal(t, KindLastWrite, schema.Kind("title"))
	assert.True(t, schema.Declared("title"))
	assert.False(t, schema.Declared("unknown"))

	s := New(nil)
	schema.Fold(s, map[string]interface{}{"findings": []interface{}{1}})
	schema.Fold(s, map[string]interface{}{"findings": []interface{}{2}})
	schema.Fold(s, map[string]interface{}{"scores": map[string]interface{}{"x": 1}})
	schema.Fold(s, map[string]interface{}{"scores": map[string]interface{}{"y": 2}})
	schema.Fold(s, map[string]interface{}{"title": "one"})
	schema.Fold(s, map[string]interface{}{"title": "two"})

	assert.Equal(t, []interface{}{1, 2}, s["findings"])
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 2}, s["scores"])
	assert.Equal(t, "two", s["title"])
}

func TestSchemaPropertiesWrapper(t *testing.T) {
	schema := NewSchema(map[string]interface{}{
		"properties": map[string]interface{}{
			"log": map[string]interface{}{"type": "array"},
		},
	})

	assert.Equal(t, KindAppend, schema.Kind("log"))
}

func TestReservedKindsFixed(t *testing.T) {
	// Declaring a reserved key does not change its reducer.
	schema := NewSchema(map[string]interface{}{
		KeyOutput: map[string]interface{}{"type": "array"},
	})

	assert.Equal(t, KindLastWrite, schema.Kind(KeyOutput))
	assert.Equal(t, KindImmutable, schema.Kind(KeyInput))
	assert.Equal(t, KindAppend, schema.Kind(KeyMessages))
	assert.Equal(t, KindMerge, schema.Kind(KeyIntermediate))
	assert.Equal(t, KindMerge, schema.Kind(KeyMetadata))
}

func TestCloneIsolation(t *testing.T) {
	s := New(map[string]interface{}{"topic": "go"})
	s[KeyIntermediate] = map[string]interface{}{
		"research": map[string]interface{}{"facts": []interface{}{"f1"}},
	}

	clone := s.Clone()
	clone.Intermediate()["research"].(map[string]interface{})["facts"] = []interface{}{"mutated"}
	clone[KeyParallelItem] = "item"

	require.Equal(t, []interface{}{"f1"},
		s.Intermediate()["research"].(map[string]interface{})["facts"])
	_, leaked := s[KeyParallelItem]
	assert.False(t, leaked)
}

func TestFromSnapshotRestoresDefaults(t *testing.T) {
	s := FromSnapshot(map[string]interface{}{
		KeyInput:       map[string]interface{}{"topic": "go"},
		KeyCurrentNode: "write",
	})

	assert.Equal(t, "write", s.CurrentNode())
	assert.Equal(t, map[string]interface{}{}, s.Intermediate())
	assert.Equal(t, []interface{}{}, s[KeyMessages])

	empty := FromSnapshot(nil)
	assert.Equal(t, map[string]interface{}{}, empty.Input())
}
