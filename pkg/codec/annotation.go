package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Wire format for annotation blobs: a 4-byte magic, a uvarint entry count,
// then one record per entry. Updates and snapshots share the format; a
// snapshot is simply the full entry set of a document.
var magic = []byte("ANT1")

// Entry is one keyed register in an annotation document. Conflicts resolve
// last-writer-wins on (Clock, Actor, Value), which makes merge commutative,
// associative and idempotent.
type Entry struct {
	Key   string
	Clock uint64
	Actor string
	Value []byte
}

// wins reports whether e supersedes other for the same key.
func (e Entry) wins(other Entry) bool {
	if e.Clock != other.Clock {
		return e.Clock > other.Clock
	}
	if e.Actor != other.Actor {
		return e.Actor > other.Actor
	}
	return bytes.Compare(e.Value, other.Value) > 0
}

// annotationDoc is the in-memory state: latest entry per key.
type annotationDoc struct {
	entries map[string]Entry
}

// AnnotationCodec is the built-in Codec implementation. It satisfies the
// full codec contract (order-independent merge, deterministic encode) and
// is what the service wires by default.
type AnnotationCodec struct{}

// New returns the built-in annotation codec.
func New() *AnnotationCodec {
	return &AnnotationCodec{}
}

// NewDoc returns a fresh empty document.
func (c *AnnotationCodec) NewDoc() Doc {
	return &annotationDoc{entries: make(map[string]Entry)}
}

// Apply folds a blob into doc.
func (c *AnnotationCodec) Apply(doc Doc, blob []byte) error {
	d, ok := doc.(*annotationDoc)
	if !ok {
		return malformed(fmt.Sprintf("document of type %T was not produced by this codec", doc), nil)
	}
	entries, err := decode(blob)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if cur, ok := d.entries[e.Key]; !ok || e.wins(cur) {
			d.entries[e.Key] = e
		}
	}
	return nil
}

// Encode produces the full-state blob for doc. Entries are emitted in key
// order so equal states encode to equal bytes.
func (c *AnnotationCodec) Encode(doc Doc) ([]byte, error) {
	d, ok := doc.(*annotationDoc)
	if !ok {
		return nil, malformed(fmt.Sprintf("document of type %T was not produced by this codec", doc), nil)
	}
	entries := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return EncodeEntries(entries), nil
}

// Merge combines update blobs into one. Decoding happens before any entry
// is folded, so a malformed input rejects the whole merge and leaves the
// caller free to fall back to individual appends.
func (c *AnnotationCodec) Merge(blobs [][]byte) ([]byte, error) {
	decoded := make([][]Entry, 0, len(blobs))
	for i, blob := range blobs {
		entries, err := decode(blob)
		if err != nil {
			return nil, malformed(fmt.Sprintf("merge input %d", i), err)
		}
		decoded = append(decoded, entries)
	}

	merged := make(map[string]Entry)
	for _, entries := range decoded {
		for _, e := range entries {
			if cur, ok := merged[e.Key]; !ok || e.wins(cur) {
				merged[e.Key] = e
			}
		}
	}

	out := make([]Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return EncodeEntries(out), nil
}

// Entries returns the current entries of doc sorted by key. Test helper and
// inspection hook; production code never looks inside a document.
func Entries(doc Doc) ([]Entry, error) {
	d, ok := doc.(*annotationDoc)
	if !ok {
		return nil, malformed(fmt.Sprintf("document of type %T was not produced by this codec", doc), nil)
	}
	entries := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// EncodeEntries serializes entries as an update blob. Callers own ordering;
// Encode and Merge pass key-sorted slices for determinism.
func EncodeEntries(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	writeUvarint(&buf, uint64(len(entries)))
	for _, e := range entries {
		writeString(&buf, e.Key)
		writeUvarint(&buf, e.Clock)
		writeString(&buf, e.Actor)
		writeBytes(&buf, e.Value)
	}
	return buf.Bytes()
}

func decode(blob []byte) ([]Entry, error) {
	if len(blob) < len(magic) || !bytes.Equal(blob[:len(magic)], magic) {
		return nil, malformed("missing blob magic", nil)
	}
	r := bytes.NewReader(blob[len(magic):])

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, malformed("entry count", err)
	}
	if count > uint64(len(blob)) {
		return nil, malformed(fmt.Sprintf("entry count %d exceeds blob size", count), nil)
	}

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, malformed(fmt.Sprintf("entry %d key", i), err)
		}
		clock, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, malformed(fmt.Sprintf("entry %d clock", i), err)
		}
		actor, err := readString(r)
		if err != nil {
			return nil, malformed(fmt.Sprintf("entry %d actor", i), err)
		}
		value, err := readBytes(r)
		if err != nil {
			return nil, malformed(fmt.Sprintf("entry %d value", i), err)
		}
		entries = append(entries, Entry{Key: key, Clock: clock, Actor: actor, Value: value})
	}
	return entries, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
