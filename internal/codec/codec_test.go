package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
)

func sampleDoc(id string) document.Document {
	doc := document.New(
		document.WithID(id),
		document.WithText("hello "+id),
		document.WithEmbedding([]float32{0.25, -1.5, 3}),
		document.WithTags(map[string]any{
			"lang":   "go",
			"score":  0.5,
			"nested": map[string]any{"ok": true},
			"list":   []any{"a", 1.0},
		}),
		document.WithTensor(document.Tensor{Shape: []int{2, 2}, Values: []float64{1, 2, 3, 4}}),
	)
	doc.ParentID = "parent"
	doc.Granularity = -2
	doc.Adjacency = 3
	doc.Blob = []byte{0, 1, 2}
	doc.MimeType = "text/plain"
	doc.Weight = 1.25
	doc.URI = "file://" + id
	doc.Offset = 4
	doc.Location = []float64{1, 2}
	doc.Modality = "text"
	doc.Evaluations = map[string]document.NamedScore{"f1": {Value: 0.9, OpName: "eval", RefID: "r"}}
	doc.Scores = map[string]document.NamedScore{"cos": {Value: 0.1, Description: "distance"}}
	doc.Chunks = []document.Document{document.New(document.WithID(id+"-c"), document.WithText("chunk"))}
	doc.Matches = []document.Document{document.New(document.WithID(id+"-m"), document.WithBlob([]byte("m")))}
	return doc
}

func TestDocument_RoundTrip(t *testing.T) {
	want := sampleDoc("d1")
	for _, p := range Protocols() {
		for _, c := range Compressions() {
			t.Run(fmt.Sprintf("%s/%s", p, c), func(t *testing.T) {
				data, err := EncodeDocument(&want, p, c)
				require.NoError(t, err)

				got, err := DecodeDocument(data, p, c)
				require.NoError(t, err)
				assert.True(t, got.Equal(&want), "got %+v", got)
			})
		}
	}
}

func TestDocument_EmptyDocument(t *testing.T) {
	want := document.New(document.WithID("empty"))
	for _, p := range Protocols() {
		data, err := EncodeDocument(&want, p, CompressNone)
		require.NoError(t, err)
		got, err := DecodeDocument(data, p, CompressNone)
		require.NoError(t, err)
		assert.True(t, got.Equal(&want), p)
	}
}

func TestProtobuf_TypedTagSlicesWiden(t *testing.T) {
	doc := document.New(document.WithID("x"), document.WithTags(map[string]any{"names": []string{"a", "b"}}))
	data, err := EncodeDocument(&doc, ProtocolProtobuf, CompressNone)
	require.NoError(t, err)

	got, err := DecodeDocument(data, ProtocolProtobuf, CompressNone)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got.Tags["names"])
}

func TestProtobuf_UnsupportedTag(t *testing.T) {
	doc := document.New(document.WithID("x"), document.WithTags(map[string]any{"ch": make(chan int)}))
	_, err := EncodeDocument(&doc, ProtocolProtobuf, CompressNone)
	assert.ErrorIs(t, err, domain.ErrSerialization)
}

func TestDecodeDocument_Malformed(t *testing.T) {
	for _, p := range []Protocol{ProtocolProtobuf, ProtocolGob, ProtocolJSON} {
		_, err := DecodeDocument([]byte{0xff, 0xff, 0xff}, p, CompressNone)
		assert.ErrorIs(t, err, domain.ErrSerialization, p)
	}
}

func TestDecodeDocument_MissingID(t *testing.T) {
	_, err := DecodeDocument(nil, ProtocolProtobuf, CompressNone)
	assert.ErrorIs(t, err, domain.ErrSerialization)
}

func TestDecompress_Corrupt(t *testing.T) {
	for _, c := range Compressions() {
		if c == CompressNone {
			continue
		}
		_, err := Decompress([]byte("definitely not compressed"), c)
		assert.ErrorIs(t, err, domain.ErrSerialization, c)
	}
}

func TestParse(t *testing.T) {
	p, err := ParseProtocol("")
	require.NoError(t, err)
	assert.Equal(t, ProtocolProtobuf, p)

	_, err = ParseProtocol("pickle")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	c, err := ParseCompression("none")
	require.NoError(t, err)
	assert.Equal(t, CompressNone, c)

	_, err = ParseCompression("brotli")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCollection_RoundTrip(t *testing.T) {
	docs := []document.Document{sampleDoc("a"), sampleDoc("b"), document.New(document.WithID("c"))}
	env := Envelope{Backend: "sqlite", Config: []byte(`{"name":"t"}`)}

	for _, p := range Protocols() {
		for _, c := range []Compression{CompressNone, CompressZstd, CompressLZ4} {
			t.Run(fmt.Sprintf("%s/%s", p, c), func(t *testing.T) {
				data, err := EncodeCollection(docs, p, c, env)
				require.NoError(t, err)
				require.Equal(t, []byte{'D', 'A', Version}, data[:HeaderSize])

				got, gotEnv, err := DecodeCollection(data, p, c)
				require.NoError(t, err)
				require.Len(t, got, len(docs))
				for i := range docs {
					assert.True(t, got[i].Equal(&docs[i]), "doc %d", i)
				}
				if p == ProtocolGobArray {
					assert.Equal(t, env, gotEnv)
				} else {
					assert.Empty(t, gotEnv.Backend)
				}
			})
		}
	}
}

func TestCollection_Empty(t *testing.T) {
	for _, p := range Protocols() {
		data, err := EncodeCollection(nil, p, CompressNone, Envelope{})
		require.NoError(t, err)
		got, _, err := DecodeCollection(data, p, CompressNone)
		require.NoError(t, err)
		assert.Empty(t, got, p)
	}
}

func TestDecodeCollection_BadHeader(t *testing.T) {
	data, err := EncodeCollection([]document.Document{sampleDoc("a")}, ProtocolProtobuf, CompressNone, Envelope{})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", append([]byte("XX"), data[2:]...)},
		{"wrong version", append([]byte{'D', 'A', Version + 1}, data[HeaderSize:]...)},
		{"truncated body", data[:len(data)-4]},
		{"trailing bytes", append(bytes.Clone(data), 0x01)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeCollection(tt.data, ProtocolProtobuf, CompressNone)
			assert.ErrorIs(t, err, domain.ErrSerialization)
		})
	}
}

func TestDocument_IntTagsRoundTrip(t *testing.T) {
	want := document.New(document.WithID("n"), document.WithTags(map[string]any{
		"count": 3,
		"ids":   []int{1, 2},
	}))
	for _, p := range Protocols() {
		data, err := EncodeDocument(&want, p, CompressNone)
		require.NoError(t, err, p)
		got, err := DecodeDocument(data, p, CompressNone)
		require.NoError(t, err, p)
		assert.True(t, got.Equal(&want), "%s: got %+v", p, got.Tags)
	}
}

func TestDecodeCollection_InflatedCount(t *testing.T) {
	data, err := EncodeCollection(nil, ProtocolProtobuf, CompressNone, Envelope{})
	require.NoError(t, err)

	// claim 4096 documents but carry only a few bytes of them
	body := binary.AppendUvarint(nil, 4096)
	body = append(body, bytes.Repeat([]byte{0x01, 0x00}, 2048)...)
	forged := append(bytes.Clone(data[:HeaderSize]), body...)

	_, _, err = DecodeCollection(forged, ProtocolProtobuf, CompressNone)
	assert.ErrorIs(t, err, domain.ErrSerialization)
}

func TestText_CP1252(t *testing.T) {
	in := []byte(`{"text":"café – €"}`)
	enc, err := EncodeText(in, EncodingCP1252)
	require.NoError(t, err)
	assert.NotEqual(t, in, enc)

	out, err := DecodeText(enc, EncodingCP1252)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = EncodeText([]byte("日本"), EncodingCP1252)
	assert.ErrorIs(t, err, domain.ErrSerialization)

	_, err = DecodeText([]byte{0xff}, EncodingUTF8)
	assert.ErrorIs(t, err, domain.ErrSerialization)
}

func TestParseTextEncoding(t *testing.T) {
	for in, want := range map[string]TextEncoding{
		"":             EncodingUTF8,
		"UTF8":         EncodingUTF8,
		"windows_1252": EncodingCP1252,
		"cp1252":       EncodingCP1252,
	} {
		got, err := ParseTextEncoding(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTextEncoding("latin9")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
