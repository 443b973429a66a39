package core

import (
	"fmt"
	"sort"
	"sync"
)

// FieldType is the expected data type of a source column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldInteger
	FieldDate
)

// FieldSpec describes one source column of an entity.
type FieldSpec struct {
	Name     string    // CSV header and staging column name
	Type     FieldType // Parsed type in production
	Required bool      // Column must exist in the CSV header
}

// EntityDefinition describes how an entity moves through the tiers.
type EntityDefinition struct {
	Name        string      // "customers"
	BusinessKey string      // "customer_id"
	FileName    string      // raw CSV file: "customers.csv"
	Fields      []FieldSpec // source columns in file order
	LoadOrder   int         // parents load before children
}

// Columns returns the source column names in file order.
func (d EntityDefinition) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Name
	}
	return cols
}

// StagingTable returns the schema-qualified staging table.
func (d EntityDefinition) StagingTable() string { return "staging." + d.Name }

// ProductionTable returns the schema-qualified production table.
func (d EntityDefinition) ProductionTable() string { return "production." + d.Name }

var (
	registry   = make(map[string]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the name is already registered or the business key is not a field.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Name]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Name))
	}

	found := false
	for _, f := range def.Fields {
		if f.Name == def.BusinessKey {
			found = true
			break
		}
	}
	if !found {
		panic(fmt.Sprintf("entity %s: business key %q is not a declared field", def.Name, def.BusinessKey))
	}

	registry[def.Name] = def
}

// Get returns an entity definition by name.
func Get(name string) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[name]
	return def, ok
}

// MustGet returns an entity definition or panics. For names known at compile time.
func MustGet(name string) EntityDefinition {
	def, ok := Get(name)
	if !ok {
		panic(fmt.Sprintf("unknown entity: %s", name))
	}
	return def
}

// All returns all registered entities in load order.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].LoadOrder != result[j].LoadOrder {
			return result[i].LoadOrder < result[j].LoadOrder
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns the registered entity names in load order.
func Names() []string {
	defs := All()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// EntityCount returns the number of registered entities.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]EntityDefinition)
}
