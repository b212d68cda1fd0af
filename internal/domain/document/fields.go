package document

import (
	"fmt"
	"slices"

	"github.com/kailas-cloud/docarray/internal/domain"
)

// Field names as stored and addressed by SetAttribute.
const (
	FieldID          = "id"
	FieldParentID    = "parent_id"
	FieldGranularity = "granularity"
	FieldAdjacency   = "adjacency"
	FieldBlob        = "blob"
	FieldTensor      = "tensor"
	FieldMimeType    = "mime_type"
	FieldText        = "text"
	FieldWeight      = "weight"
	FieldURI         = "uri"
	FieldTags        = "tags"
	FieldOffset      = "offset"
	FieldLocation    = "location"
	FieldEmbedding   = "embedding"
	FieldModality    = "modality"
	FieldEvaluations = "evaluations"
	FieldScores      = "scores"
	FieldChunks      = "chunks"
	FieldMatches     = "matches"
)

// fieldSpec declares one document field: when it counts as set, how to read
// it and how to assign it from a loosely typed value.
type fieldSpec struct {
	name  string
	isSet func(d *Document) bool
	get   func(d *Document) any
	set   func(d *Document, v any) error
}

var fields = []fieldSpec{
	{
		name:  FieldID,
		isSet: func(d *Document) bool { return d.id != "" },
		get:   func(d *Document) any { return d.id },
		set: func(*Document, any) error {
			return fmt.Errorf("id is immutable: %w", domain.ErrInvalidArgument)
		},
	},
	stringField(FieldParentID, func(d *Document) *string { return &d.ParentID }),
	intField(FieldGranularity, func(d *Document) *int { return &d.Granularity }),
	intField(FieldAdjacency, func(d *Document) *int { return &d.Adjacency }),
	{
		name:  FieldBlob,
		isSet: func(d *Document) bool { return len(d.Blob) > 0 },
		get:   func(d *Document) any { return d.Blob },
		set: func(d *Document, v any) error {
			switch b := v.(type) {
			case nil:
				d.Blob = nil
			case []byte:
				d.Blob = slices.Clone(b)
			case string:
				d.Blob = []byte(b)
			default:
				return typeError(FieldBlob, v)
			}
			return nil
		},
	},
	{
		name:  FieldTensor,
		isSet: func(d *Document) bool { return d.Tensor != nil },
		get:   func(d *Document) any { return d.Tensor },
		set: func(d *Document, v any) error {
			switch t := v.(type) {
			case nil:
				d.Tensor = nil
			case Tensor:
				d.Tensor = t.clone()
			case *Tensor:
				d.Tensor = t.clone()
			case []float64:
				d.Tensor = &Tensor{Shape: []int{len(t)}, Values: slices.Clone(t)}
			default:
				return typeError(FieldTensor, v)
			}
			return nil
		},
	},
	stringField(FieldMimeType, func(d *Document) *string { return &d.MimeType }),
	stringField(FieldText, func(d *Document) *string { return &d.Text }),
	floatField(FieldWeight, func(d *Document) *float64 { return &d.Weight }),
	stringField(FieldURI, func(d *Document) *string { return &d.URI }),
	{
		name:  FieldTags,
		isSet: func(d *Document) bool { return len(d.Tags) > 0 },
		get:   func(d *Document) any { return d.Tags },
		set: func(d *Document, v any) error {
			switch t := v.(type) {
			case nil:
				d.Tags = nil
			case map[string]any:
				d.Tags = cloneTags(t)
			default:
				return typeError(FieldTags, v)
			}
			return nil
		},
	},
	floatField(FieldOffset, func(d *Document) *float64 { return &d.Offset }),
	{
		name:  FieldLocation,
		isSet: func(d *Document) bool { return len(d.Location) > 0 },
		get:   func(d *Document) any { return d.Location },
		set: func(d *Document, v any) error {
			loc, ok := toFloat64s(v)
			if !ok {
				return typeError(FieldLocation, v)
			}
			d.Location = loc
			return nil
		},
	},
	{
		name:  FieldEmbedding,
		isSet: func(d *Document) bool { return len(d.Embedding) > 0 },
		get:   func(d *Document) any { return d.Embedding },
		set: func(d *Document, v any) error {
			emb, ok := toFloat32s(v)
			if !ok {
				return typeError(FieldEmbedding, v)
			}
			d.Embedding = emb
			return nil
		},
	},
	stringField(FieldModality, func(d *Document) *string { return &d.Modality }),
	scoresField(FieldEvaluations, func(d *Document) *map[string]NamedScore { return &d.Evaluations }),
	scoresField(FieldScores, func(d *Document) *map[string]NamedScore { return &d.Scores }),
	docsField(FieldChunks, func(d *Document) *[]Document { return &d.Chunks }),
	docsField(FieldMatches, func(d *Document) *[]Document { return &d.Matches }),
}

var fieldIndex = func() map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		m[f.name] = i
	}
	return m
}()

// FieldNames returns every addressable field in declaration order.
func FieldNames() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// NonEmptyFields returns the names of fields holding a non-default value.
func (d *Document) NonEmptyFields() []string {
	var out []string
	for _, f := range fields {
		if f.isSet(d) {
			out = append(out, f.name)
		}
	}
	return out
}

// SetAttribute assigns value to the named field.
func (d *Document) SetAttribute(name string, value any) error {
	i, ok := fieldIndex[name]
	if !ok {
		return fmt.Errorf("unknown attribute %q: %w", name, domain.ErrInvalidArgument)
	}
	return fields[i].set(d, value)
}

// Attribute returns the value of the named field.
func (d *Document) Attribute(name string) (any, error) {
	i, ok := fieldIndex[name]
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q: %w", name, domain.ErrInvalidArgument)
	}
	return fields[i].get(d), nil
}

func stringField(name string, ptr func(*Document) *string) fieldSpec {
	return fieldSpec{
		name:  name,
		isSet: func(d *Document) bool { return *ptr(d) != "" },
		get:   func(d *Document) any { return *ptr(d) },
		set: func(d *Document, v any) error {
			switch s := v.(type) {
			case nil:
				*ptr(d) = ""
			case string:
				*ptr(d) = s
			default:
				return typeError(name, v)
			}
			return nil
		},
	}
}

func intField(name string, ptr func(*Document) *int) fieldSpec {
	return fieldSpec{
		name:  name,
		isSet: func(d *Document) bool { return *ptr(d) != 0 },
		get:   func(d *Document) any { return *ptr(d) },
		set: func(d *Document, v any) error {
			switch n := v.(type) {
			case int:
				*ptr(d) = n
			case int64:
				*ptr(d) = int(n)
			case float64:
				if n != float64(int(n)) {
					return typeError(name, v)
				}
				*ptr(d) = int(n)
			default:
				return typeError(name, v)
			}
			return nil
		},
	}
}

func floatField(name string, ptr func(*Document) *float64) fieldSpec {
	return fieldSpec{
		name:  name,
		isSet: func(d *Document) bool { return *ptr(d) != 0 },
		get:   func(d *Document) any { return *ptr(d) },
		set: func(d *Document, v any) error {
			switch n := v.(type) {
			case float64:
				*ptr(d) = n
			case float32:
				*ptr(d) = float64(n)
			case int:
				*ptr(d) = float64(n)
			default:
				return typeError(name, v)
			}
			return nil
		},
	}
}

func scoresField(name string, ptr func(*Document) *map[string]NamedScore) fieldSpec {
	return fieldSpec{
		name:  name,
		isSet: func(d *Document) bool { return len(*ptr(d)) > 0 },
		get:   func(d *Document) any { return *ptr(d) },
		set: func(d *Document, v any) error {
			switch m := v.(type) {
			case nil:
				*ptr(d) = nil
			case map[string]NamedScore:
				c := make(map[string]NamedScore, len(m))
				for k, s := range m {
					c[k] = s
				}
				*ptr(d) = c
			default:
				return typeError(name, v)
			}
			return nil
		},
	}
}

func docsField(name string, ptr func(*Document) *[]Document) fieldSpec {
	return fieldSpec{
		name:  name,
		isSet: func(d *Document) bool { return len(*ptr(d)) > 0 },
		get:   func(d *Document) any { return *ptr(d) },
		set: func(d *Document, v any) error {
			switch docs := v.(type) {
			case nil:
				*ptr(d) = nil
			case []Document:
				*ptr(d) = cloneDocs(docs)
			default:
				return typeError(name, v)
			}
			return nil
		},
	}
}

func typeError(name string, v any) error {
	return fmt.Errorf("attribute %q does not accept %T: %w", name, v, domain.ErrInvalidArgument)
}

func toFloat32s(v any) ([]float32, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []float32:
		return slices.Clone(t), true
	case []float64:
		out := make([]float32, len(t))
		for i, x := range t {
			out[i] = float32(x)
		}
		return out, true
	case []int:
		out := make([]float32, len(t))
		for i, x := range t {
			out[i] = float32(x)
		}
		return out, true
	}
	return nil, false
}

func toFloat64s(v any) ([]float64, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []float64:
		return slices.Clone(t), true
	case []float32:
		out := make([]float64, len(t))
		for i, x := range t {
			out[i] = float64(x)
		}
		return out, true
	}
	return nil, false
}
