// Package payload builds JSON request bodies from a payload template.
//
// Randomized values are drawn from a generator seeded by (run seed, VU id,
// iteration), so a given VU and iteration always produce the same body
// within a run.
package payload

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"text/template"

	"github.com/wesleyorama2/volley/internal/config"
)

// Generator produces the body of one iteration. The returned slice must not
// be modified; fixed payloads share one buffer.
type Generator interface {
	Generate(vuID int, iter int64) ([]byte, error)
}

// Option configures Compile.
type Option func(*options)

type options struct {
	seed int64
}

// WithSeed sets the run seed.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// Compile validates cfg and returns a generator for it.
func Compile(cfg config.PayloadConfig, opts ...Option) (Generator, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Kind {
	case config.PayloadFixed, config.PayloadRandomized, config.PayloadBulk:
	default:
		return nil, fmt.Errorf("unknown payload kind %q", cfg.Kind)
	}

	fields, err := compileFields(cfg.Fields)
	if err != nil {
		return nil, err
	}

	g := &generator{seed: o.seed, fields: fields}

	if cfg.Kind == config.PayloadFixed {
		for _, f := range fields {
			if f.kind != config.FieldConst {
				return nil, fmt.Errorf("fixed payload: field %q has type %s, only const fields are allowed (use kind randomized)", f.name, f.kind)
			}
		}
	}

	if cfg.Kind == config.PayloadBulk {
		if cfg.Bulk == nil {
			return nil, fmt.Errorf("bulk payload needs a bulk section")
		}
		if cfg.Bulk.Field == "" {
			return nil, fmt.Errorf("bulk: field name is required")
		}
		if cfg.Bulk.SizeBytes < 0 {
			return nil, fmt.Errorf("bulk: sizeBytes cannot be negative, got %d", cfg.Bulk.SizeBytes)
		}
		for _, f := range fields {
			if f.name == cfg.Bulk.Field {
				return nil, fmt.Errorf("bulk: field %q is also a regular field", f.name)
			}
		}
		fill := cfg.Bulk.Fill
		if fill == "" {
			fill = "X"
		}
		g.bulkKey = mustMarshal(cfg.Bulk.Field)
		g.bulkValue = mustMarshal(pad(fill, cfg.Bulk.SizeBytes))
	}

	if !g.random() {
		body, err := g.render(nil, templateData{})
		if err != nil {
			return nil, err
		}
		return fixed(body), nil
	}
	return g, nil
}

// fixed is a payload without any random or per-iteration field.
type fixed []byte

func (f fixed) Generate(int, int64) ([]byte, error) {
	return f, nil
}

type field struct {
	name    string
	key     []byte
	kind    string
	value   interface{}
	min     float64
	max     float64
	choices []interface{}
	tmpl    *template.Template
	of      []int
	factor  float64
}

type generator struct {
	seed      int64
	fields    []*field
	bulkKey   []byte
	bulkValue []byte
}

func (g *generator) random() bool {
	for _, f := range g.fields {
		if f.kind != config.FieldConst {
			return true
		}
	}
	return false
}

// Generate implements Generator.
func (g *generator) Generate(vuID int, iter int64) ([]byte, error) {
	rng := rand.New(rand.NewSource(seedFor(g.seed, vuID, iter)))
	return g.render(rng, templateData{VU: vuID, Iter: iter})
}

func (g *generator) render(rng *rand.Rand, data templateData) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 + len(g.bulkValue))
	buf.WriteByte('{')

	values := make([]interface{}, len(g.fields))
	for i, f := range g.fields {
		v, err := f.generate(rng, data, values)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.name, err)
		}
		values[i] = v

		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.name, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(f.key)
		buf.WriteByte(':')
		buf.Write(encoded)
	}

	if g.bulkKey != nil {
		if len(g.fields) > 0 {
			buf.WriteByte(',')
		}
		buf.Write(g.bulkKey)
		buf.WriteByte(':')
		buf.Write(g.bulkValue)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *field) generate(rng *rand.Rand, data templateData, earlier []interface{}) (interface{}, error) {
	switch f.kind {
	case config.FieldConst:
		return f.value, nil
	case config.FieldInt:
		lo, hi := int64(f.min), int64(f.max)
		return lo + rng.Int63n(hi-lo+1), nil
	case config.FieldFloat:
		v := f.min + rng.Float64()*(f.max-f.min)
		return math.Round(v*100) / 100, nil
	case config.FieldChoice:
		return f.choices[rng.Intn(len(f.choices))], nil
	case config.FieldTemplate:
		return executeTemplate(f.tmpl, rng, data)
	case config.FieldUUID:
		return uuidFrom(rng)
	case config.FieldProduct:
		product := f.factor
		for _, idx := range f.of {
			n, ok := toFloat(earlier[idx])
			if !ok {
				return nil, fmt.Errorf("operand is not numeric: %v", earlier[idx])
			}
			product *= n
		}
		if product == math.Trunc(product) && math.Abs(product) < 1<<53 {
			return int64(product), nil
		}
		return product, nil
	}
	return nil, fmt.Errorf("unknown field type %q", f.kind)
}

func compileFields(cfgs []config.FieldConfig) ([]*field, error) {
	fields := make([]*field, 0, len(cfgs))
	index := make(map[string]int, len(cfgs))

	for i, fc := range cfgs {
		if fc.Name == "" {
			return nil, fmt.Errorf("fields[%d]: name is required", i)
		}
		if _, dup := index[fc.Name]; dup {
			return nil, fmt.Errorf("fields[%d]: duplicate field %q", i, fc.Name)
		}

		f := &field{name: fc.Name, key: mustMarshal(fc.Name), kind: fc.Type}
		if f.kind == "" {
			f.kind = config.FieldConst
		}

		switch f.kind {
		case config.FieldConst:
			f.value = fc.Value
		case config.FieldInt, config.FieldFloat:
			f.min, f.max = 0, 100
			if fc.Min != nil {
				f.min = *fc.Min
			}
			if fc.Max != nil {
				f.max = *fc.Max
			}
			if f.min > f.max {
				return nil, fmt.Errorf("fields[%d] (%s): min %g > max %g", i, fc.Name, f.min, f.max)
			}
			if f.kind == config.FieldInt {
				f.min, f.max = math.Ceil(f.min), math.Floor(f.max)
				if f.min > f.max {
					return nil, fmt.Errorf("fields[%d] (%s): no integer in range", i, fc.Name)
				}
				if f.min < math.MinInt64 || f.max >= math.MaxInt64 {
					return nil, fmt.Errorf("fields[%d] (%s): range [%g, %g] exceeds int64", i, fc.Name, f.min, f.max)
				}
				// hi-lo+1 must fit in an int64; a negative difference wrapped
				if span := int64(f.max) - int64(f.min); span < 0 || span == math.MaxInt64 {
					return nil, fmt.Errorf("fields[%d] (%s): range [%g, %g] is wider than %d", i, fc.Name, f.min, f.max, int64(math.MaxInt64))
				}
			}
		case config.FieldChoice:
			if len(fc.Choices) == 0 {
				return nil, fmt.Errorf("fields[%d] (%s): choices cannot be empty", i, fc.Name)
			}
			f.choices = fc.Choices
		case config.FieldTemplate:
			t, err := parseTemplate(fc.Name, fc.Template)
			if err != nil {
				return nil, fmt.Errorf("fields[%d] (%s): invalid template: %w", i, fc.Name, err)
			}
			f.tmpl = t
		case config.FieldUUID:
		case config.FieldProduct:
			if len(fc.Of) == 0 {
				return nil, fmt.Errorf("fields[%d] (%s): product needs at least one operand", i, fc.Name)
			}
			for _, name := range fc.Of {
				idx, ok := index[name]
				if !ok {
					return nil, fmt.Errorf("fields[%d] (%s): operand %q must be an earlier field", i, fc.Name, name)
				}
				if k := fields[idx].kind; k != config.FieldInt && k != config.FieldFloat && k != config.FieldConst && k != config.FieldProduct {
					return nil, fmt.Errorf("fields[%d] (%s): operand %q is a %s field", i, fc.Name, name, k)
				}
				f.of = append(f.of, idx)
			}
			f.factor = 1
			if fc.Factor != nil {
				f.factor = *fc.Factor
			}
		default:
			return nil, fmt.Errorf("fields[%d] (%s): unknown field type %q", i, fc.Name, fc.Type)
		}

		index[fc.Name] = i
		fields = append(fields, f)
	}
	return fields, nil
}

// seedFor mixes the run seed with the VU id and iteration.
func seedFor(seed int64, vuID int, iter int64) int64 {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], uint64(seed))
	binary.LittleEndian.PutUint64(b[8:], uint64(vuID))
	binary.LittleEndian.PutUint64(b[16:], uint64(iter))
	h := fnv.New64a()
	_, _ = h.Write(b[:])
	return int64(h.Sum64())
}

func pad(fill string, size int) string {
	if size == 0 {
		return ""
	}
	return strings.Repeat(fill, size/len(fill)+1)[:size]
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
