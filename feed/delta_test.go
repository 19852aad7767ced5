package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedme-go/feedclient/wire"
)

func TestJSONPatchApplierAddsAndReplaces(t *testing.T) {
	applier := JSONPatchApplier{}
	current := NewData([]byte(`{"count":1}`))

	next, err := applier.Apply(current, []wire.Delta{
		{Op: "replace", Path: "/count", Value: json.RawMessage("2")},
		{Op: "add", Path: "/label", Value: json.RawMessage(`"hi"`)},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2,"label":"hi"}`, string(next.Raw()))
}

func TestJSONPatchApplierNoDeltasIsNoop(t *testing.T) {
	applier := JSONPatchApplier{}
	current := NewData([]byte(`{"count":1}`))
	next, err := applier.Apply(current, nil)
	require.NoError(t, err)
	assert.True(t, current.Equal(next))
}

func TestJSONPatchApplierRejectsBadRemove(t *testing.T) {
	applier := JSONPatchApplier{}
	current := NewData([]byte(`{"count":1}`))
	_, err := applier.Apply(current, []wire.Delta{
		{Op: "remove", Path: "/missing"},
	})
	assert.Error(t, err)
}

func TestJSONPatchApplierDefaultsEmptyBaseToObject(t *testing.T) {
	applier := JSONPatchApplier{}
	next, err := applier.Apply(Data{}, []wire.Delta{
		{Op: "add", Path: "/a", Value: json.RawMessage("1")},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(next.Raw()))
}
