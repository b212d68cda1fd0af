package document

import (
	"encoding/json"
	"fmt"
)

type scoreJSON struct {
	Value       float64 `json:"value,omitempty"`
	OpName      string  `json:"op_name,omitempty"`
	Description string  `json:"description,omitempty"`
	RefID       string  `json:"ref_id,omitempty"`
}

type tensorJSON struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

type documentJSON struct {
	ID          string               `json:"id"`
	ParentID    string               `json:"parent_id,omitempty"`
	Granularity int                  `json:"granularity,omitempty"`
	Adjacency   int                  `json:"adjacency,omitempty"`
	Blob        []byte               `json:"blob,omitempty"`
	Tensor      *tensorJSON          `json:"tensor,omitempty"`
	MimeType    string               `json:"mime_type,omitempty"`
	Text        string               `json:"text,omitempty"`
	Weight      float64              `json:"weight,omitempty"`
	URI         string               `json:"uri,omitempty"`
	Tags        map[string]any       `json:"tags,omitempty"`
	Offset      float64              `json:"offset,omitempty"`
	Location    []float64            `json:"location,omitempty"`
	Embedding   []float32            `json:"embedding,omitempty"`
	Modality    string               `json:"modality,omitempty"`
	Evaluations map[string]scoreJSON `json:"evaluations,omitempty"`
	Scores      map[string]scoreJSON `json:"scores,omitempty"`
	Chunks      []Document           `json:"chunks,omitempty"`
	Matches     []Document           `json:"matches,omitempty"`
}

// MarshalJSON encodes the document with snake_case keys, omitting defaults.
func (d Document) MarshalJSON() ([]byte, error) {
	w := documentJSON{
		ID:          d.id,
		ParentID:    d.ParentID,
		Granularity: d.Granularity,
		Adjacency:   d.Adjacency,
		Blob:        d.Blob,
		MimeType:    d.MimeType,
		Text:        d.Text,
		Weight:      d.Weight,
		URI:         d.URI,
		Tags:        d.Tags,
		Offset:      d.Offset,
		Location:    d.Location,
		Embedding:   d.Embedding,
		Modality:    d.Modality,
		Evaluations: scoresToJSON(d.Evaluations),
		Scores:      scoresToJSON(d.Scores),
		Chunks:      d.Chunks,
		Matches:     d.Matches,
	}
	if d.Tensor != nil {
		w.Tensor = &tensorJSON{Shape: d.Tensor.Shape, Values: d.Tensor.Values}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a document produced by MarshalJSON. A missing id is
// generated.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w documentJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if w.ID == "" {
		w.ID = NewID()
	}
	*d = Document{
		id:          w.ID,
		ParentID:    w.ParentID,
		Granularity: w.Granularity,
		Adjacency:   w.Adjacency,
		Blob:        w.Blob,
		MimeType:    w.MimeType,
		Text:        w.Text,
		Weight:      w.Weight,
		URI:         w.URI,
		Tags:        w.Tags,
		Offset:      w.Offset,
		Location:    w.Location,
		Embedding:   w.Embedding,
		Modality:    w.Modality,
		Evaluations: scoresFromJSON(w.Evaluations),
		Scores:      scoresFromJSON(w.Scores),
		Chunks:      w.Chunks,
		Matches:     w.Matches,
	}
	if w.Tensor != nil {
		d.Tensor = &Tensor{Shape: w.Tensor.Shape, Values: w.Tensor.Values}
	}
	return nil
}

func scoresToJSON(m map[string]NamedScore) map[string]scoreJSON {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]scoreJSON, len(m))
	for k, s := range m {
		out[k] = scoreJSON(s)
	}
	return out
}

func scoresFromJSON(m map[string]scoreJSON) map[string]NamedScore {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]NamedScore, len(m))
	for k, s := range m {
		out[k] = NamedScore(s)
	}
	return out
}
