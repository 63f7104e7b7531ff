package persistence

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/jinzhu/inflection"
	"github.com/puzpuzpuz/xsync/v3"
)

// Metadata describes one declared entity: its Go type, the table it maps to,
// secondary indexes, and an optional custom repository factory. The registry
// treats the mapping itself as opaque; column-level details belong to the
// engine's struct tags.
type Metadata struct {
	// Name is the entity's Go type name, the key callers use with Find,
	// Reference and Repository.
	Name string

	// Type is the entity struct type, without pointer indirection.
	Type reflect.Type

	// Table is the mapped table name. Defaults to the pluralized
	// snake_case of Name.
	Table string

	// Indexes lists secondary indexes the schema synchronizer maintains.
	Indexes []Index

	// Repository, when set, constructs the custom repository returned by
	// Manager.Repository instead of the generic default.
	Repository RepositoryFactory
}

// Index declares one secondary index on an entity's table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// New returns a new zero value of the entity as a pointer to struct, ready
// to be used as a scan target.
func (m *Metadata) New() any {
	return reflect.New(m.Type).Interface()
}

// MetadataOption customizes a registration.
type MetadataOption func(*Metadata)

// WithTable overrides the derived table name.
func WithTable(name string) MetadataOption {
	return func(m *Metadata) { m.Table = name }
}

// WithIndexes declares secondary indexes for the entity's table.
func WithIndexes(indexes ...Index) MetadataOption {
	return func(m *Metadata) { m.Indexes = append(m.Indexes, indexes...) }
}

// WithRepository registers a custom repository factory for the entity.
func WithRepository(factory RepositoryFactory) MetadataOption {
	return func(m *Metadata) { m.Repository = factory }
}

// MetadataResolver is the read side of the registry, consumed by engines and
// the schema synchronizer.
type MetadataResolver interface {
	Lookup(name string) (*Metadata, bool)
	All() []*Metadata
}

// Registry holds the declared entity metadata for one manager. It is safe
// for concurrent lookups.
type Registry struct {
	types *xsync.MapOf[string, *Metadata]
}

// NewRegistry creates an empty metadata registry.
func NewRegistry() *Registry {
	return &Registry{types: xsync.NewMapOf[string, *Metadata]()}
}

// Register declares an entity. The argument must be a pointer to struct or a
// struct value; its type name becomes the registry key.
func (r *Registry) Register(entity any, opts ...MetadataOption) (*Metadata, error) {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct || t.Name() == "" {
		return nil, &MetadataError{
			Entity: fmt.Sprintf("%T", entity),
			Reason: "entities must be named struct types",
		}
	}

	meta := &Metadata{
		Name:  t.Name(),
		Type:  t,
		Table: inflection.Plural(toSnake(t.Name())),
	}
	for _, opt := range opts {
		opt(meta)
	}

	r.types.Store(meta.Name, meta)
	return meta, nil
}

// Lookup resolves metadata by entity type name.
func (r *Registry) Lookup(name string) (*Metadata, bool) {
	return r.types.Load(name)
}

// All returns every declared metadata, sorted by name so consumers like the
// schema synchronizer behave deterministically.
func (r *Registry) All() []*Metadata {
	var metas []*Metadata
	r.types.Range(func(_ string, meta *Metadata) bool {
		metas = append(metas, meta)
		return true
	})
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// typeNameOf resolves the registry key for an entity instance.
func typeNameOf(entity any) string {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}
