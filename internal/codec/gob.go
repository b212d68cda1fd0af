package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register([]float64{})
}

// gobDocument mirrors document.Document with the id exported.
type gobDocument struct {
	ID          string
	ParentID    string
	Granularity int
	Adjacency   int
	Blob        []byte
	Tensor      *document.Tensor
	MimeType    string
	Text        string
	Weight      float64
	URI         string
	Tags        map[string]any
	Offset      float64
	Location    []float64
	Embedding   []float32
	Modality    string
	Evaluations map[string]document.NamedScore
	Scores      map[string]document.NamedScore
	Chunks      []gobDocument
	Matches     []gobDocument
}

func toGob(d *document.Document) gobDocument {
	g := gobDocument{
		ID:          d.ID(),
		ParentID:    d.ParentID,
		Granularity: d.Granularity,
		Adjacency:   d.Adjacency,
		Blob:        d.Blob,
		Tensor:      d.Tensor,
		MimeType:    d.MimeType,
		Text:        d.Text,
		Weight:      d.Weight,
		URI:         d.URI,
		Tags:        d.Tags,
		Offset:      d.Offset,
		Location:    d.Location,
		Embedding:   d.Embedding,
		Modality:    d.Modality,
		Evaluations: d.Evaluations,
		Scores:      d.Scores,
	}
	for i := range d.Chunks {
		g.Chunks = append(g.Chunks, toGob(&d.Chunks[i]))
	}
	for i := range d.Matches {
		g.Matches = append(g.Matches, toGob(&d.Matches[i]))
	}
	return g
}

func fromGob(g *gobDocument) (document.Document, error) {
	content := document.Document{
		ParentID:    g.ParentID,
		Granularity: g.Granularity,
		Adjacency:   g.Adjacency,
		Blob:        g.Blob,
		Tensor:      g.Tensor,
		MimeType:    g.MimeType,
		Text:        g.Text,
		Weight:      g.Weight,
		URI:         g.URI,
		Tags:        g.Tags,
		Offset:      g.Offset,
		Location:    g.Location,
		Embedding:   g.Embedding,
		Modality:    g.Modality,
		Evaluations: g.Evaluations,
		Scores:      g.Scores,
	}
	for i := range g.Chunks {
		c, err := fromGob(&g.Chunks[i])
		if err != nil {
			return document.Document{}, err
		}
		content.Chunks = append(content.Chunks, c)
	}
	for i := range g.Matches {
		m, err := fromGob(&g.Matches[i])
		if err != nil {
			return document.Document{}, err
		}
		content.Matches = append(content.Matches, m)
	}
	doc, err := document.Reconstruct(g.ID, content)
	if err != nil {
		return document.Document{}, fmt.Errorf("gob decode: %w: %w", domain.ErrSerialization, err)
	}
	return doc, nil
}

func marshalGob(d *document.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGob(d)); err != nil {
		return nil, fmt.Errorf("gob encode: %w: %w", domain.ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func unmarshalGob(data []byte) (document.Document, error) {
	var g gobDocument
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return document.Document{}, fmt.Errorf("gob decode: %w: %w", domain.ErrSerialization, err)
	}
	return fromGob(&g)
}
