package feed

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/feedme-go/feedclient/wire"
)

// DeltaApplier is the external collaborator spec §1/§4.2 calls "the delta
// interpreter": given the current feed data and an ordered list of
// deltas, it produces the new data or an error if any delta does not
// apply cleanly. The Conversation depends only on this interface; a
// ServerMessageError{deltaViolation} results from any error it returns.
type DeltaApplier interface {
	Apply(current Data, deltas []wire.Delta) (Data, error)
}

// JSONPatchApplier implements DeltaApplier over RFC 6902 JSON Patch,
// grounded in estuary-flow's use of evanphx/json-patch for catalog spec
// diffing. Each wire.Delta maps directly onto one JSON Patch operation.
type JSONPatchApplier struct{}

func (JSONPatchApplier) Apply(current Data, deltas []wire.Delta) (Data, error) {
	if len(deltas) == 0 {
		return current, nil
	}

	ops := make([]map[string]interface{}, 0, len(deltas))
	for _, d := range deltas {
		op := map[string]interface{}{"op": d.Op, "path": d.Path}
		if len(d.Value) > 0 {
			var v interface{}
			if err := json.Unmarshal(d.Value, &v); err != nil {
				return Data{}, fmt.Errorf("feed: invalid delta value: %w", err)
			}
			op["value"] = v
		}
		ops = append(ops, op)
	}

	encodedOps, err := json.Marshal(ops)
	if err != nil {
		return Data{}, fmt.Errorf("feed: could not encode deltas as a patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(encodedOps)
	if err != nil {
		return Data{}, fmt.Errorf("feed: invalid delta sequence: %w", err)
	}

	base := current.Raw()
	if base == nil {
		base = json.RawMessage("{}")
	}
	out, err := patch.Apply(base)
	if err != nil {
		return Data{}, fmt.Errorf("feed: delta did not apply cleanly: %w", err)
	}
	return NewData(out), nil
}
