package codec

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
)

// Document message field numbers.
const (
	fieldID          protowire.Number = 1
	fieldParentID    protowire.Number = 2
	fieldGranularity protowire.Number = 3
	fieldAdjacency   protowire.Number = 4
	fieldBlob        protowire.Number = 5
	fieldTensor      protowire.Number = 6
	fieldMimeType    protowire.Number = 7
	fieldText        protowire.Number = 8
	fieldWeight      protowire.Number = 9
	fieldURI         protowire.Number = 10
	fieldTags        protowire.Number = 11
	fieldOffset      protowire.Number = 12
	fieldLocation    protowire.Number = 13
	fieldEmbedding   protowire.Number = 14
	fieldModality    protowire.Number = 15
	fieldEvaluations protowire.Number = 16
	fieldScores      protowire.Number = 17
	fieldChunks      protowire.Number = 18
	fieldMatches     protowire.Number = 19
)

func marshalProto(d *document.Document) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldID, d.ID())
	b = appendString(b, fieldParentID, d.ParentID)
	b = appendSint(b, fieldGranularity, d.Granularity)
	b = appendSint(b, fieldAdjacency, d.Adjacency)
	if len(d.Blob) > 0 {
		b = protowire.AppendTag(b, fieldBlob, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Blob)
	}
	if d.Tensor != nil {
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(d.Tensor))
	}
	b = appendString(b, fieldMimeType, d.MimeType)
	b = appendString(b, fieldText, d.Text)
	b = appendDouble(b, fieldWeight, d.Weight)
	b = appendString(b, fieldURI, d.URI)
	if len(d.Tags) > 0 {
		tags, err := structpb.NewStruct(normalizeTags(d.Tags))
		if err != nil {
			return nil, fmt.Errorf("protobuf encode tags: %w: %w", domain.ErrSerialization, err)
		}
		raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(tags)
		if err != nil {
			return nil, fmt.Errorf("protobuf encode tags: %w: %w", domain.ErrSerialization, err)
		}
		b = protowire.AppendTag(b, fieldTags, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	b = appendDouble(b, fieldOffset, d.Offset)
	if len(d.Location) > 0 {
		b = protowire.AppendTag(b, fieldLocation, protowire.BytesType)
		b = protowire.AppendBytes(b, packDoubles(d.Location))
	}
	if len(d.Embedding) > 0 {
		var packed []byte
		for _, v := range d.Embedding {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = protowire.AppendTag(b, fieldEmbedding, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = appendString(b, fieldModality, d.Modality)
	b = appendScores(b, fieldEvaluations, d.Evaluations)
	b = appendScores(b, fieldScores, d.Scores)
	for _, sub := range []struct {
		num  protowire.Number
		docs []document.Document
	}{{fieldChunks, d.Chunks}, {fieldMatches, d.Matches}} {
		for i := range sub.docs {
			child, err := marshalProto(&sub.docs[i])
			if err != nil {
				return nil, err
			}
			b = protowire.AppendTag(b, sub.num, protowire.BytesType)
			b = protowire.AppendBytes(b, child)
		}
	}
	return b, nil
}

// normalizeTags widens typed slices and maps into the []any and
// map[string]any shapes structpb accepts.
func normalizeTags(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeTag(v)
	}
	return out
}

func normalizeTag(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeTags(t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeTag(t[i])
		}
		return out
	case []string:
		return widen(t)
	case []float64:
		return widen(t)
	case []int:
		return widen(t)
	}
	return v
}

func widen[T any](s []T) []any {
	out := make([]any, len(s))
	for i := range s {
		out[i] = s[i]
	}
	return out
}

func unmarshalProto(b []byte) (document.Document, error) {
	var (
		doc document.Document
		id  string
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return document.Document{}, protoErr(n)
		}
		b = b[n:]

		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return document.Document{}, protoErr(n)
			}
			b = b[n:]
			if err := setBytesField(&doc, &id, num, v); err != nil {
				return document.Document{}, err
			}
			continue
		}

		switch {
		case typ == protowire.VarintType && (num == fieldGranularity || num == fieldAdjacency):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return document.Document{}, protoErr(n)
			}
			b = b[n:]
			if num == fieldGranularity {
				doc.Granularity = int(protowire.DecodeZigZag(v))
			} else {
				doc.Adjacency = int(protowire.DecodeZigZag(v))
			}
		case typ == protowire.Fixed64Type && (num == fieldWeight || num == fieldOffset):
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return document.Document{}, protoErr(n)
			}
			b = b[n:]
			if num == fieldWeight {
				doc.Weight = math.Float64frombits(v)
			} else {
				doc.Offset = math.Float64frombits(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return document.Document{}, protoErr(n)
			}
			b = b[n:]
		}
	}

	out, err := document.Reconstruct(id, doc)
	if err != nil {
		return document.Document{}, fmt.Errorf("protobuf decode: %w: %w", domain.ErrSerialization, err)
	}
	return out, nil
}

func setBytesField(doc *document.Document, id *string, num protowire.Number, v []byte) error {
	switch num {
	case fieldID:
		*id = string(v)
	case fieldParentID:
		doc.ParentID = string(v)
	case fieldBlob:
		doc.Blob = append([]byte(nil), v...)
	case fieldTensor:
		t, err := unmarshalTensor(v)
		if err != nil {
			return err
		}
		doc.Tensor = t
	case fieldMimeType:
		doc.MimeType = string(v)
	case fieldText:
		doc.Text = string(v)
	case fieldURI:
		doc.URI = string(v)
	case fieldTags:
		var s structpb.Struct
		if err := proto.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("protobuf decode tags: %w: %w", domain.ErrSerialization, err)
		}
		doc.Tags = s.AsMap()
	case fieldLocation:
		loc, err := unpackDoubles(v)
		if err != nil {
			return err
		}
		doc.Location = loc
	case fieldEmbedding:
		if len(v)%4 != 0 {
			return fmt.Errorf("protobuf decode embedding: %w", domain.ErrSerialization)
		}
		emb := make([]float32, 0, len(v)/4)
		for len(v) > 0 {
			x, n := protowire.ConsumeFixed32(v)
			if n < 0 {
				return protoErr(n)
			}
			emb = append(emb, math.Float32frombits(x))
			v = v[n:]
		}
		doc.Embedding = emb
	case fieldModality:
		doc.Modality = string(v)
	case fieldEvaluations, fieldScores:
		name, score, err := unmarshalScore(v)
		if err != nil {
			return err
		}
		target := &doc.Scores
		if num == fieldEvaluations {
			target = &doc.Evaluations
		}
		if *target == nil {
			*target = make(map[string]document.NamedScore)
		}
		(*target)[name] = score
	case fieldChunks, fieldMatches:
		child, err := unmarshalProto(v)
		if err != nil {
			return err
		}
		if num == fieldChunks {
			doc.Chunks = append(doc.Chunks, child)
		} else {
			doc.Matches = append(doc.Matches, child)
		}
	}
	return nil
}

func marshalTensor(t *document.Tensor) []byte {
	var b []byte
	if len(t.Shape) > 0 {
		var packed []byte
		for _, s := range t.Shape {
			packed = protowire.AppendVarint(packed, uint64(s))
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(t.Values) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, packDoubles(t.Values))
	}
	return b
}

func unmarshalTensor(b []byte) (*document.Tensor, error) {
	t := &document.Tensor{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protoErr(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protoErr(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protoErr(n)
		}
		b = b[n:]
		switch num {
		case 1:
			for len(v) > 0 {
				x, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return nil, protoErr(n)
				}
				t.Shape = append(t.Shape, int(x))
				v = v[n:]
			}
		case 2:
			vals, err := unpackDoubles(v)
			if err != nil {
				return nil, err
			}
			t.Values = vals
		}
	}
	return t, nil
}

func appendScores(b []byte, num protowire.Number, m map[string]document.NamedScore) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := m[k]
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendDouble(entry, 2, s.Value)
		entry = appendString(entry, 3, s.OpName)
		entry = appendString(entry, 4, s.Description)
		entry = appendString(entry, 5, s.RefID)
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func unmarshalScore(b []byte) (string, document.NamedScore, error) {
	var (
		name  string
		score document.NamedScore
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", score, protoErr(n)
		}
		b = b[n:]
		switch {
		case typ == protowire.Fixed64Type && num == 2:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return "", score, protoErr(n)
			}
			score.Value = math.Float64frombits(v)
			b = b[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", score, protoErr(n)
			}
			b = b[n:]
			switch num {
			case 1:
				name = string(v)
			case 3:
				score.OpName = string(v)
			case 4:
				score.Description = string(v)
			case 5:
				score.RefID = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", score, protoErr(n)
			}
			b = b[n:]
		}
	}
	return name, score, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendSint(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func packDoubles(vals []float64) []byte {
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return packed
}

func unpackDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("protobuf decode packed double: %w", domain.ErrSerialization)
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protoErr(n)
		}
		out = append(out, math.Float64frombits(v))
		b = b[n:]
	}
	return out, nil
}

func protoErr(n int) error {
	return fmt.Errorf("protobuf decode: %w: %w", domain.ErrSerialization, protowire.ParseError(n))
}
