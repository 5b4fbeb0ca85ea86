package marcidb

import (
	"github.com/vmihailenco/msgpack/v5"
)

// registryState is the persisted ordinal assignment for a data
// directory, stored as a msgpack record in the meta bucket. Ordinals
// outlive their schema entries: removing a model keeps its ordinal
// reserved so the key space of a later model with a reused name never
// collides with stale keys.
type registryState struct {
	Models    map[string]uint32 `msgpack:"models"`
	Relations map[string]uint32 `msgpack:"relations"`
	Indexes   map[string]uint32 `msgpack:"indexes"`

	LastModel    uint32 `msgpack:"last_model"`
	LastRelation uint32 `msgpack:"last_relation"`
	LastIndex    uint32 `msgpack:"last_index"`
}

var registryStateKey = []byte("registry_state")

func newRegistryState() *registryState {
	return &registryState{
		Models:    make(map[string]uint32),
		Relations: make(map[string]uint32),
		Indexes:   make(map[string]uint32),
	}
}

func loadRegistryState(data []byte) (*registryState, error) {
	if data == nil {
		return newRegistryState(), nil
	}
	st := newRegistryState()
	if err := msgpack.Unmarshal(data, st); err != nil {
		return nil, codecErrf(data, 0, "registry state: %v", err)
	}
	return st, nil
}

func (st *registryState) save() ([]byte, error) {
	data, err := msgpack.Marshal(st)
	if err != nil {
		return nil, codecErrf(nil, 0, "registry state: %v", err)
	}
	return data, nil
}

// reconcile overwrites the schema's provisional ordinals with the
// persisted ones, allocating fresh ordinals for names seen for the
// first time. Reports whether the state changed and needs saving.
func (st *registryState) reconcile(s *Schema) bool {
	dirty := false
	for _, m := range s.Models {
		ord, ok := st.Models[m.Name]
		if !ok {
			st.LastModel++
			ord = st.LastModel
			st.Models[m.Name] = ord
			dirty = true
		}
		m.ID = ModelID(ord)
	}
	for _, rel := range s.Relations {
		ord, ok := st.Relations[rel.Name]
		if !ok {
			st.LastRelation++
			ord = st.LastRelation
			st.Relations[rel.Name] = ord
			dirty = true
		}
		rel.ID = RelationID(ord)
	}
	for _, x := range s.Indexes {
		ord, ok := st.Indexes[x.name()]
		if !ok {
			st.LastIndex++
			ord = st.LastIndex
			st.Indexes[x.name()] = ord
			dirty = true
		}
		x.ID = IndexID(ord)
	}
	return dirty
}
