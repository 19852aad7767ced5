package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialIgnoresArgOrder(t *testing.T) {
	a := Identity{Name: "chat", Args: map[string]string{"room": "lobby", "lang": "en"}}
	b := Identity{Name: "chat", Args: map[string]string{"lang": "en", "room": "lobby"}}
	assert.Equal(t, a.Serial(), b.Serial())
}

func TestSerialDistinguishesDifferentArgs(t *testing.T) {
	a := Identity{Name: "chat", Args: map[string]string{"room": "lobby"}}
	b := Identity{Name: "chat", Args: map[string]string{"room": "attic"}}
	assert.NotEqual(t, a.Serial(), b.Serial())
}

func TestSerialDistinguishesNames(t *testing.T) {
	a := Identity{Name: "chat", Args: map[string]string{"room": "lobby"}}
	b := Identity{Name: "presence", Args: map[string]string{"room": "lobby"}}
	assert.NotEqual(t, a.Serial(), b.Serial())
}

func TestSortedKeysEmpty(t *testing.T) {
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestSortedKeysOrdering(t *testing.T) {
	m := map[string]int{"c": 1, "a": 2, "b": 3}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
}
