package refstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

func TestAlignPrunesUnknownKeys(t *testing.T) {
	ref := model.Doc{
		"id":   "",
		"name": "e",
		"configuration": map[string]any{
			"topic": "e/#",
		},
	}
	actual := model.Doc{
		"id":        "12",
		"name":      "e",
		"timeout":   "",
		"eqType_id": "3",
		"configuration": map[string]any{
			"topic":     "e/#",
			"createtime": "2019-01-01",
		},
		"status": map[string]any{"lastCommunication": "2019-01-01 10:00:00"},
	}

	out := Align(ref, actual)

	assert.Equal(t, model.Doc{
		"id":            "12",
		"name":          "e",
		"configuration": model.Doc{"topic": "e/#"},
	}, out)
	assert.Equal(t, "12", ResolvedID(ref))
	assert.Contains(t, actual, "timeout", "actual must not be modified")
}

func TestAlignNeverOverwritesKnownID(t *testing.T) {
	ref := model.Doc{"id": "5", "name": "e"}
	out := Align(ref, model.Doc{"id": "6", "name": "e"})
	assert.Equal(t, "5", ref["id"])
	assert.Equal(t, "6", out["id"], "the mismatch stays visible to the comparison")
}

func TestAlignIsAProjection(t *testing.T) {
	ref := model.Doc{
		"a": "1",
		"n": map[string]any{"x": 1, "deep": map[string]any{"k": "v"}},
		"l": []any{map[string]any{"id": "", "name": "c"}},
	}
	actual := model.Doc{
		"a": "1",
		"b": "2",
		"n": map[string]any{"x": 1, "y": 2, "deep": map[string]any{"k": "v", "z": 0}},
		"l": []any{
			map[string]any{"id": "9", "name": "c", "extra": true},
			map[string]any{"id": "10", "name": "d", "extra": 2},
		},
	}

	once := Align(ref, actual)
	assertSubset(t, ref, once)

	twice := Align(ref, once)
	assert.Equal(t, once, twice)

	l := ref["l"].([]any)[0].(map[string]any)
	assert.Equal(t, "9", l["id"])
	assert.Equal(t, []any{model.Doc{"id": "9", "name": "c"}}, once["l"])
}

func assertSubset(t *testing.T, ref, got model.Doc) {
	t.Helper()
	for k, v := range got {
		rv, ok := ref[k]
		if !assert.True(t, ok, "unexpected key %q", k) {
			continue
		}
		if gm := asDoc(v); gm != nil {
			if rm := asDoc(rv); rm != nil {
				assertSubset(t, rm, gm)
			}
		}
		if gl, ok := v.([]any); ok {
			rl, _ := rv.([]any)
			if !assert.LessOrEqual(t, len(gl), len(rl), "list %q is longer than ref", k) {
				continue
			}
			for i, e := range gl {
				if gm, rm := asDoc(e), asDoc(rl[i]); gm != nil && rm != nil {
					assertSubset(t, rm, gm)
				}
			}
		}
	}
}

func TestAlignKeepsNonObjectMismatches(t *testing.T) {
	ref := model.Doc{"configuration": map[string]any{"topic": "x"}}
	out := Align(ref, model.Doc{"configuration": "broken"})
	assert.Equal(t, "broken", out["configuration"])
}

// ============================================================================
// InitFromPlugin
// ============================================================================

type fakeSource struct {
	snap model.Snapshot
	cmds map[string][]model.Doc
}

func (f *fakeSource) FetchEquipments(context.Context, string) (model.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeSource) FetchCommands(_ context.Context, id string) ([]model.Doc, error) {
	return f.cmds[id], nil
}

func TestInitFromPlugin(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddBroker("other", "h", 1883, "other")
	require.NoError(t, err)

	src := &fakeSource{
		snap: model.Snapshot{
			"host": {
				{"id": "1", "name": "host", "logicalId": "jeedom/#", "isEnable": "1",
					"configuration": map[string]any{"type": "broker", "brkId": "1", "mqttAddress": "192.168.1.10"}},
				{"id": "2", "name": "Actions", "logicalId": "actions/#", "isEnable": "0", "object_id": "4",
					"configuration": map[string]any{"type": "eqpt", "brkId": "1", "topic": "actions/#"}},
			},
		},
		cmds: map[string][]model.Doc{
			"1": {{"id": "10", "name": "status", "type": "info", "subType": "string", "eqLogic_id": "1",
				"currentValue": "online", "configuration": map[string]any{"topic": "jeedom/status"}}},
			"2": {{"id": "20", "name": "on", "type": "action", "subType": "other", "eqLogic_id": "2", "order": "0",
				"currentValue": "true", "configuration": map[string]any{"topic": "actions/on"}}},
		},
	}

	require.NoError(t, s.InitFromPlugin(context.Background(), src))

	b, err := s.Broker("host")
	require.NoError(t, err)
	assert.Equal(t, "1", b.ID())
	assert.Equal(t, []string{"host", "Actions"}, eqptNames(b))
	require.Len(t, b.Equipment().Cmds, 1)
	assert.Equal(t, "10", b.Equipment().Cmds[0].ID)

	e, err := s.Equipment("host", "Actions")
	require.NoError(t, err)
	assert.Equal(t, "2", e.ID)
	assert.Equal(t, "1", e.Configuration.BrkID)
	assert.False(t, e.Enabled())
	require.NotNil(t, e.ObjectID)
	assert.Equal(t, "4", *e.ObjectID)
	require.Len(t, e.Cmds, 1)
	assert.Equal(t, model.Bool(true), e.Cmds[0].CurrentValue)
	assert.Equal(t, model.CmdAction, e.Cmds[0].Type)

	other, _ := s.Broker("other")
	assert.Equal(t, "", other.ID(), "unknown brokers are left untouched")
}

func TestInitFromPluginKeepsKnownIDs(t *testing.T) {
	s := newTestStore(t)
	e, err := s.AddEquipment("host", "lamp", true, nil, true)
	require.NoError(t, err)
	e.SetIDIfEmpty("2")
	c, err := s.SetCmdInfo("host", "lamp", "lamp/state", "on", "")
	require.NoError(t, err)
	c.SetIDIfEmpty("20")

	src := &fakeSource{
		snap: model.Snapshot{
			"host": {
				{"id": "1", "name": "host", "configuration": map[string]any{"type": "broker", "brkId": "1"}},
				{"id": "22", "name": "lamp", "configuration": map[string]any{"type": "eqpt", "brkId": "1"}},
			},
		},
		cmds: map[string][]model.Doc{
			"22": {{"id": "21", "name": c.Name, "type": "info", "subType": "string", "eqLogic_id": "22"}},
		},
	}
	require.NoError(t, s.InitFromPlugin(context.Background(), src))

	e, err = s.Equipment("host", "lamp")
	require.NoError(t, err)
	assert.Equal(t, "2", e.ID, "a known equipment id is never replaced")
	require.Len(t, e.Cmds, 1)
	assert.Equal(t, "20", e.Cmds[0].ID, "a known command id is never replaced")

	b, err := s.Broker("host")
	require.NoError(t, err)
	assert.Equal(t, "1", b.ID(), "empty ids are bound from the plugin")
}
