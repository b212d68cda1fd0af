package document

import (
	"encoding/hex"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/google/uuid"

	"github.com/kailas-cloud/docarray/internal/domain"
)

// Tensor is a dense n-dimensional array stored row-major.
type Tensor struct {
	Shape  []int
	Values []float64
}

// NamedScore is a single named metric attached to a document.
type NamedScore struct {
	Value       float64
	OpName      string
	Description string
	RefID       string
}

// Document is a single addressable record. The id is fixed at construction.
type Document struct {
	id string

	ParentID    string
	Granularity int
	Adjacency   int
	Blob        []byte
	Tensor      *Tensor
	MimeType    string
	Text        string
	Weight      float64
	URI         string
	Tags        map[string]any
	Offset      float64
	Location    []float64
	Embedding   []float32
	Modality    string
	Evaluations map[string]NamedScore
	Scores      map[string]NamedScore
	Chunks      []Document
	Matches     []Document
}

// Option configures a Document built by New.
type Option func(*Document)

// WithID sets an explicit id; an empty id keeps the generated one.
func WithID(id string) Option {
	return func(d *Document) {
		if id != "" {
			d.id = id
		}
	}
}

// WithText sets the text content.
func WithText(text string) Option { return func(d *Document) { d.Text = text } }

// WithBlob sets the binary content.
func WithBlob(blob []byte) Option { return func(d *Document) { d.Blob = slices.Clone(blob) } }

// WithEmbedding sets the embedding vector.
func WithEmbedding(v []float32) Option {
	return func(d *Document) { d.Embedding = slices.Clone(v) }
}

// WithTensor sets the tensor content.
func WithTensor(t Tensor) Option {
	return func(d *Document) { d.Tensor = t.clone() }
}

// WithTags sets the tag mapping.
func WithTags(tags map[string]any) Option {
	return func(d *Document) { d.Tags = cloneTags(tags) }
}

// WithURI sets the document URI.
func WithURI(uri string) Option { return func(d *Document) { d.URI = uri } }

// New creates a Document with a random 128-bit hex id unless WithID is given.
func New(opts ...Option) Document {
	d := Document{id: NewID()}
	for _, o := range opts {
		o(&d)
	}
	return d
}

// Reconstruct hydrates a Document from storage: the id plus the exported
// fields of content.
func Reconstruct(id string, content Document) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document id is required: %w", domain.ErrInvalidArgument)
	}
	content.id = id
	return content, nil
}

// NewID returns 128 random bits, hex encoded.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// HasEmbedding reports whether an embedding is set.
func (d *Document) HasEmbedding() bool { return len(d.Embedding) > 0 }

// HasTags reports whether any tag is set.
func (d *Document) HasTags() bool { return len(d.Tags) > 0 }

// Content returns the first set content field: text, then blob, then tensor.
func (d *Document) Content() any {
	switch {
	case d.Text != "":
		return d.Text
	case len(d.Blob) > 0:
		return d.Blob
	case d.Tensor != nil:
		return d.Tensor
	}
	return nil
}

// Clone returns a deep copy.
func (d *Document) Clone() Document {
	c := *d
	c.Blob = slices.Clone(d.Blob)
	c.Tensor = d.Tensor.clone()
	c.Tags = cloneTags(d.Tags)
	c.Location = slices.Clone(d.Location)
	c.Embedding = slices.Clone(d.Embedding)
	c.Evaluations = maps.Clone(d.Evaluations)
	c.Scores = maps.Clone(d.Scores)
	c.Chunks = cloneDocs(d.Chunks)
	c.Matches = cloneDocs(d.Matches)
	return c
}

// Equal reports whether both documents carry the same id and content.
// Empty and nil collections compare equal.
func (d *Document) Equal(o *Document) bool {
	if d.id != o.id ||
		d.ParentID != o.ParentID ||
		d.Granularity != o.Granularity ||
		d.Adjacency != o.Adjacency ||
		d.MimeType != o.MimeType ||
		d.Text != o.Text ||
		d.Weight != o.Weight ||
		d.URI != o.URI ||
		d.Offset != o.Offset ||
		d.Modality != o.Modality {
		return false
	}
	if !slices.Equal(d.Blob, o.Blob) ||
		!slices.Equal(d.Location, o.Location) ||
		!slices.Equal(d.Embedding, o.Embedding) {
		return false
	}
	if !d.Tensor.equal(o.Tensor) {
		return false
	}
	if len(d.Tags) != len(o.Tags) || (len(d.Tags) > 0 && !reflect.DeepEqual(normalizeTag(d.Tags), normalizeTag(o.Tags))) {
		return false
	}
	if !scoresEqual(d.Evaluations, o.Evaluations) || !scoresEqual(d.Scores, o.Scores) {
		return false
	}
	return docsEqual(d.Chunks, o.Chunks) && docsEqual(d.Matches, o.Matches)
}

func (t *Tensor) clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{Shape: slices.Clone(t.Shape), Values: slices.Clone(t.Values)}
}

func (t *Tensor) equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return slices.Equal(t.Shape, o.Shape) && slices.Equal(t.Values, o.Values)
}

// normalizeTag maps numbers to float64, typed slices to []any and string-keyed
// maps to map[string]any, matching what the structured codecs decode to.
func normalizeTag(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return v
	case []byte:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeTag(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeTag(e)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeTag(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			out[it.Key().String()] = normalizeTag(it.Value().Interface())
		}
		return out
	}
	return v
}

func scoresEqual(a, b map[string]NamedScore) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func docsEqual(a, b []Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(&b[i]) {
			return false
		}
	}
	return true
}

func cloneDocs(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	for i := range docs {
		out[i] = docs[i].Clone()
	}
	return out
}

func cloneTags(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneTags(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
