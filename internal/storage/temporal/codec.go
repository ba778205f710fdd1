/*
Copyright 2025 Tempus Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package temporal

import (
	"fmt"
	"time"

	"github.com/tempusdb/tempus/internal/storage"
	"github.com/viant/bintly"
)

// Payload codecs for the page store and snapshots. Every payload is a
// bintly stream; framing and checksums live in pagestore.go.

var (
	codecWriters = bintly.NewWriters()
	codecReaders = bintly.NewReaders()
)

// encode runs one coder through a pooled bintly writer and returns the
// payload bytes. The returned slice is a copy safe to retain.
func encode(coder interface {
	EncodeBinary(*bintly.Writer) error
}) ([]byte, error) {
	w := codecWriters.Get()
	defer codecWriters.Put(w)
	if err := coder.EncodeBinary(w); err != nil {
		return nil, err
	}
	data := w.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// decode rehydrates one coder from payload bytes.
func decode(data []byte, coder interface {
	DecodeBinary(*bintly.Reader) error
}) error {
	r := codecReaders.Get()
	defer codecReaders.Put(r)
	if err := r.FromBytes(data); err != nil {
		return err
	}
	return coder.DecodeBinary(r)
}

// versionRecord is the persisted form of one row version:
// [logical_id][column values...][valid_from][valid_to].
type versionRecord struct {
	RowID     int64
	Data      storage.Row
	ValidFrom int64
	ValidTo   int64
}

func (rec *versionRecord) EncodeBinary(w *bintly.Writer) error {
	w.Int64(rec.RowID)
	w.Int16(int16(len(rec.Data)))
	for _, v := range rec.Data {
		if err := encodeValue(w, v); err != nil {
			return err
		}
	}
	w.Int64(rec.ValidFrom)
	w.Int64(rec.ValidTo)
	return nil
}

func (rec *versionRecord) DecodeBinary(r *bintly.Reader) error {
	r.Int64(&rec.RowID)
	var n int16
	r.Int16(&n)
	rec.Data = make(storage.Row, n)
	for i := range rec.Data {
		v, err := decodeValue(r)
		if err != nil {
			return err
		}
		rec.Data[i] = v
	}
	r.Int64(&rec.ValidFrom)
	r.Int64(&rec.ValidTo)
	return nil
}

func encodeValue(w *bintly.Writer, v storage.ColumnValue) error {
	if v == nil {
		v = storage.StaticNullUnknown
	}
	w.Uint8(uint8(v.Type()))
	w.Bool(v.IsNull())
	if v.IsNull() {
		return nil
	}
	switch v.Type() {
	case storage.INTEGER:
		i, _ := v.AsInt64()
		w.Int64(i)
	case storage.FLOAT:
		f, _ := v.AsFloat64()
		w.Float64(f)
	case storage.TEXT:
		s, _ := v.AsString()
		w.String(s)
	case storage.BOOLEAN:
		b, _ := v.AsBoolean()
		w.Bool(b)
	case storage.TIMESTAMP:
		t, _ := v.AsTimestamp()
		w.Time(t)
	case storage.JSON:
		s, _ := v.AsJSON()
		w.String(s)
	default:
		return fmt.Errorf("encode: unsupported column type %v", v.Type())
	}
	return nil
}

func decodeValue(r *bintly.Reader) (storage.ColumnValue, error) {
	var tag uint8
	var isNull bool
	r.Uint8(&tag)
	r.Bool(&isNull)
	dt := storage.DataType(tag)
	if isNull {
		return storage.NewNullValue(dt), nil
	}
	switch dt {
	case storage.INTEGER:
		var i int64
		r.Int64(&i)
		return storage.NewIntegerValue(i), nil
	case storage.FLOAT:
		var f float64
		r.Float64(&f)
		return storage.NewFloatValue(f), nil
	case storage.TEXT:
		var s string
		r.String(&s)
		return storage.NewStringValue(s), nil
	case storage.BOOLEAN:
		var b bool
		r.Bool(&b)
		return storage.NewBooleanValue(b), nil
	case storage.TIMESTAMP:
		var t time.Time
		r.Time(&t)
		return storage.NewTimestampValue(t), nil
	case storage.JSON:
		var s string
		r.String(&s)
		return storage.NewJSONValue(s), nil
	}
	return nil, fmt.Errorf("decode: unsupported column type %v", dt)
}

// schemaRecord is the catalog form of a table definition together with
// its versioning switch.
type schemaRecord struct {
	Schema    *storage.Schema
	Versioned bool
	NextRowID int64
}

func (rec *schemaRecord) EncodeBinary(w *bintly.Writer) error {
	s := rec.Schema
	w.String(s.TableName)
	w.Int16(int16(len(s.Columns)))
	for _, c := range s.Columns {
		w.Int(c.ID)
		w.String(c.Name)
		w.Uint8(uint8(c.Type))
		w.Bool(c.Nullable)
	}
	w.Time(s.CreatedAt)
	w.Time(s.UpdatedAt)
	w.Bool(rec.Versioned)
	w.Int64(rec.NextRowID)
	return nil
}

func (rec *schemaRecord) DecodeBinary(r *bintly.Reader) error {
	s := &storage.Schema{}
	r.String(&s.TableName)
	var n int16
	r.Int16(&n)
	s.Columns = make([]storage.Column, n)
	for i := range s.Columns {
		c := &s.Columns[i]
		r.Int(&c.ID)
		r.String(&c.Name)
		var tag uint8
		r.Uint8(&tag)
		c.Type = storage.DataType(tag)
		r.Bool(&c.Nullable)
	}
	r.Time(&s.CreatedAt)
	r.Time(&s.UpdatedAt)
	rec.Schema = s
	r.Bool(&rec.Versioned)
	r.Int64(&rec.NextRowID)
	return nil
}

// indexRecord is the catalog form of a secondary index definition.
type indexRecord struct {
	Table string
	Spec  storage.IndexSpec
}

func (rec *indexRecord) EncodeBinary(w *bintly.Writer) error {
	w.String(rec.Table)
	w.String(rec.Spec.Name)
	w.Strings(rec.Spec.Columns)
	w.Bool(rec.Spec.Unique)
	w.Strings(rec.Spec.Included)
	return encodePredicate(w, rec.Spec.Where)
}

func (rec *indexRecord) DecodeBinary(r *bintly.Reader) error {
	r.String(&rec.Table)
	r.String(&rec.Spec.Name)
	r.Strings(&rec.Spec.Columns)
	r.Bool(&rec.Spec.Unique)
	r.Strings(&rec.Spec.Included)
	where, err := decodePredicate(r)
	if err != nil {
		return err
	}
	rec.Spec.Where = where
	return nil
}

// freeRecord is the tombstone payload pointing at a superseded frame.
type freeRecord struct {
	Segment int64
	Offset  int64
}

func (rec *freeRecord) EncodeBinary(w *bintly.Writer) error {
	w.Int64(rec.Segment)
	w.Int64(rec.Offset)
	return nil
}

func (rec *freeRecord) DecodeBinary(r *bintly.Reader) error {
	r.Int64(&rec.Segment)
	r.Int64(&rec.Offset)
	return nil
}

// Predicate trees are persisted for filtered indexes.
const (
	predNone    uint8 = 0
	predCompare uint8 = 1
	predAnd     uint8 = 2
	predOr      uint8 = 3
	predNot     uint8 = 4
)

func encodePredicate(w *bintly.Writer, p storage.Predicate) error {
	switch pred := p.(type) {
	case nil:
		w.Uint8(predNone)
	case *storage.ComparePredicate:
		w.Uint8(predCompare)
		w.String(pred.Column)
		w.Uint8(uint8(pred.Op))
		if err := encodeValue(w, pred.Value); err != nil {
			return err
		}
	case *storage.AndPredicate:
		w.Uint8(predAnd)
		kids := pred.Children()
		w.Int16(int16(len(kids)))
		for _, child := range kids {
			if err := encodePredicate(w, child); err != nil {
				return err
			}
		}
	case *storage.OrPredicate:
		w.Uint8(predOr)
		kids := pred.Children()
		w.Int16(int16(len(kids)))
		for _, child := range kids {
			if err := encodePredicate(w, child); err != nil {
				return err
			}
		}
	case *storage.NotPredicate:
		w.Uint8(predNot)
		if err := encodePredicate(w, pred.Child()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("encode: unsupported predicate %T", p)
	}
	return nil
}

func decodePredicate(r *bintly.Reader) (storage.Predicate, error) {
	var tag uint8
	r.Uint8(&tag)
	switch tag {
	case predNone:
		return nil, nil
	case predCompare:
		var column string
		var op uint8
		r.String(&column)
		r.Uint8(&op)
		value, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		return storage.Compare(column, storage.Operator(op), value), nil
	case predAnd, predOr:
		var n int16
		r.Int16(&n)
		kids := make([]storage.Predicate, n)
		for i := range kids {
			child, err := decodePredicate(r)
			if err != nil {
				return nil, err
			}
			kids[i] = child
		}
		if tag == predAnd {
			return storage.And(kids...), nil
		}
		return storage.Or(kids...), nil
	case predNot:
		child, err := decodePredicate(r)
		if err != nil {
			return nil, err
		}
		return storage.Not(child), nil
	}
	return nil, fmt.Errorf("decode: unknown predicate tag %d", tag)
}
