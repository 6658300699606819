package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pannadata/consolidator/dataset"
	"github.com/parquet-go/parquet-go"
)

// schemaMetadataKey stores the dataset field order and kinds in the parquet
// footer. Parquet groups sort their columns by name and cannot express an
// all-null column, so both are restored from here on read.
const schemaMetadataKey = "consolidator.schema"

const readBatchSize = 256

type schemaMetadata struct {
	Fields []fieldMetadata `json:"fields"`
}

type fieldMetadata struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

var kindByName = map[string]dataset.Kind{
	dataset.KindNull.String():   dataset.KindNull,
	dataset.KindString.String(): dataset.KindString,
	dataset.KindInt.String():    dataset.KindInt,
	dataset.KindFloat.String():  dataset.KindFloat,
	dataset.KindBool.String():   dataset.KindBool,
}

func leafFor(k dataset.Kind) parquet.Node {
	switch k {
	case dataset.KindInt:
		return parquet.Int(64)
	case dataset.KindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case dataset.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func kindFor(t parquet.Type) dataset.Kind {
	switch t.Kind() {
	case parquet.Boolean:
		return dataset.KindBool
	case parquet.Int32, parquet.Int64:
		return dataset.KindInt
	case parquet.Float, parquet.Double:
		return dataset.KindFloat
	default:
		return dataset.KindString
	}
}

// EncodeBatch writes b as a single parquet file with one optional column per
// schema field.
func EncodeBatch(w io.Writer, b *dataset.Batch) error {
	fields := b.Schema().Fields()
	if len(fields) == 0 {
		return errors.New("cannot encode batch without fields")
	}

	group := parquet.Group{}
	kinds := make(map[string]dataset.Kind, len(fields))
	meta := schemaMetadata{Fields: make([]fieldMetadata, 0, len(fields))}
	for _, f := range fields {
		group[f.Name] = parquet.Optional(leafFor(f.Kind))
		kinds[f.Name] = f.Kind
		meta.Fields = append(meta.Fields, fieldMetadata{Name: f.Name, Kind: f.Kind.String()})
	}
	schema := parquet.NewSchema(b.Table, group)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode schema metadata: %w", err)
	}

	// Leaf columns follow the parquet schema order, not the dataset order.
	columns := schema.Fields()
	writer := parquet.NewWriter(w, schema,
		parquet.Compression(&parquet.Gzip),
		parquet.KeyValueMetadata(schemaMetadataKey, string(metaJSON)),
	)

	rows := make([]parquet.Row, 0, readBatchSize)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(rows); err != nil {
			return err
		}
		rows = rows[:0]
		return nil
	}

	for i := 0; i < b.Len(); i++ {
		row := make(parquet.Row, len(columns))
		for col, field := range columns {
			v := dataset.Coerce(b.Records()[i].Get(field.Name()), kinds[field.Name()])
			if v == nil {
				row[col] = parquet.NullValue().Level(0, 0, col)
				continue
			}
			row[col] = parquet.ValueOf(v).Level(0, 1, col)
		}
		rows = append(rows, row)
		if len(rows) == cap(rows) {
			if err := flush(); err != nil {
				return fmt.Errorf("write rows: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// DecodeBatch reads a flat parquet file into a batch for coord.
func DecodeBatch(r io.ReaderAt, size int64, coord dataset.Coordinate) (*dataset.Batch, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	columns := file.Schema().Fields()
	kinds := make(map[string]dataset.Kind, len(columns))
	for _, field := range columns {
		if !field.Leaf() {
			return nil, fmt.Errorf("nested column %q is not supported", field.Name())
		}
		kinds[field.Name()] = kindFor(field.Type())
	}

	// Restore the original field order and all-null columns when present.
	schema := dataset.NewSchema()
	if raw, ok := file.Lookup(schemaMetadataKey); ok {
		var meta schemaMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			for _, f := range meta.Fields {
				if k, ok := kindByName[f.Kind]; ok {
					schema.Add(f.Name, k)
					kinds[f.Name] = k
				}
			}
		}
	}
	for _, field := range columns {
		schema.Add(field.Name(), kinds[field.Name()])
	}

	batch := dataset.NewBatchWithSchema(coord, schema)
	reader := parquet.NewReader(file)
	defer reader.Close()

	buf := make([]parquet.Row, readBatchSize)
	for {
		n, err := reader.ReadRows(buf)
		for _, row := range buf[:n] {
			values := make(map[string]any, len(columns))
			for _, v := range row {
				col := v.Column()
				if col < 0 || col >= len(columns) {
					continue
				}
				name := columns[col].Name()
				values[name] = dataset.Coerce(valueOf(v), kinds[name])
			}
			batch.Append(values)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return batch, nil
}

func valueOf(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// ReadBatchFile decodes the parquet file at path.
func ReadBatchFile(path string, coord dataset.Coordinate) (*dataset.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	batch, err := DecodeBatch(f, info.Size(), coord)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	batch.Source = path
	return batch, nil
}

// WriteBatchFile atomically replaces path with the parquet encoding of b.
func WriteBatchFile(path string, b *dataset.Batch) error {
	return writeAtomically(path, func(w io.Writer) error {
		return EncodeBatch(w, b)
	})
}
