package dataset

// Record is one observation. Absent fields read as null.
type Record map[string]any

// Get returns the value of name, nil when the record does not carry it
func (r Record) Get(name string) any {
	return r[name]
}

// Batch is an ordered collection of records sharing a schema. The schema is
// the union of every field observed in the batch.
type Batch struct {
	Table      string
	Coordinate Coordinate
	// Source is the file the batch was read from, empty for in-memory batches.
	Source string

	schema  *Schema
	records []Record
}

// NewBatch creates an empty batch for the given coordinate
func NewBatch(coord Coordinate) *Batch {
	return &Batch{
		Table:      coord.Table,
		Coordinate: coord,
		schema:     NewSchema(),
	}
}

// NewBatchWithSchema creates an empty batch that already exposes schema
func NewBatchWithSchema(coord Coordinate, schema *Schema) *Batch {
	b := NewBatch(coord)
	b.schema.Union(schema)
	return b
}

func (b *Batch) Schema() *Schema {
	return b.schema
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.records)
}

// Records returns the backing records. Callers must not mutate them.
func (b *Batch) Records() []Record {
	return b.records
}

// Append normalizes values, registers their fields and adds the record.
func (b *Batch) Append(values map[string]any) {
	rec := make(Record, len(values))
	for name, v := range values {
		nv := Normalize(v)
		b.schema.Add(name, KindOf(nv))
		rec[name] = nv
	}
	b.records = append(b.records, rec)
}

// appendAligned adds a record already normalized against b's schema.
func (b *Batch) appendAligned(rec Record) {
	b.records = append(b.records, rec)
}

// SetColumn sets name to value on every record, adding the field if needed.
// Used to tag batches with their coordinate metadata.
func (b *Batch) SetColumn(name string, value any) {
	nv := Normalize(value)
	b.schema.Add(name, KindOf(nv))
	for _, rec := range b.records {
		rec[name] = nv
	}
}

// Value returns field name of record i coerced to the schema kind.
func (b *Batch) Value(i int, name string) any {
	return Coerce(b.records[i].Get(name), b.schema.Kind(name))
}

// Column returns every value of name in record order
func (b *Batch) Column(name string) []any {
	out := make([]any, len(b.records))
	for i := range b.records {
		out[i] = b.Value(i, name)
	}
	return out
}

// Distinct returns the distinct formatted non-null values of name in first
// seen order.
func (b *Batch) Distinct(name string) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range b.records {
		v := b.Value(i, name)
		if v == nil {
			continue
		}
		s := FormatValue(v)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Concat returns a new batch holding every record of batches in order. The
// result exposes the union schema; fields a record lacks are filled with
// null and every value is coerced to the widened kind of its field.
func Concat(coord Coordinate, batches ...*Batch) *Batch {
	out := NewBatch(coord)
	total := 0
	for _, b := range batches {
		if b == nil {
			continue
		}
		out.schema.Union(b.schema)
		total += len(b.records)
	}

	fields := out.schema.Fields()
	out.records = make([]Record, 0, total)
	for _, b := range batches {
		if b == nil {
			continue
		}
		for _, rec := range b.records {
			aligned := make(Record, len(fields))
			for _, f := range fields {
				aligned[f.Name] = Coerce(rec.Get(f.Name), f.Kind)
			}
			out.appendAligned(aligned)
		}
	}
	return out
}

// Subset returns a batch with the records at indices, sharing the schema.
func (b *Batch) Subset(indices []int) *Batch {
	out := NewBatchWithSchema(b.Coordinate, b.schema)
	out.Table = b.Table
	out.records = make([]Record, 0, len(indices))
	for _, i := range indices {
		out.records = append(out.records, b.records[i])
	}
	return out
}
