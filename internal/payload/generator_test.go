package payload

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/volley/internal/config"
)

func f64(v float64) *float64 { return &v }

func orderPayload() config.PayloadConfig {
	return config.PayloadConfig{
		Kind: config.PayloadRandomized,
		Fields: []config.FieldConfig{
			{Name: "customerId", Type: config.FieldInt, Min: f64(0), Max: f64(9999)},
			{Name: "productId", Type: config.FieldInt, Min: f64(1), Max: f64(20)},
			{Name: "quantity", Type: config.FieldInt, Min: f64(1), Max: f64(5)},
			{Name: "totalAmount", Type: config.FieldProduct, Of: []string{"quantity"}, Factor: f64(500)},
			{Name: "requestId", Type: config.FieldUUID},
		},
	}
}

func decode(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &m), "body: %s", body)
	return m
}

func TestCompile_Fixed(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind: config.PayloadFixed,
		Fields: []config.FieldConfig{
			{Name: "customerId", Value: "cust-101"},
			{Name: "productId", Value: 7},
			{Name: "express", Value: true},
		},
	})
	require.NoError(t, err)

	a, err := gen.Generate(1, 0)
	require.NoError(t, err)
	b, err := gen.Generate(9, 42)
	require.NoError(t, err)

	assert.Equal(t, `{"customerId":"cust-101","productId":7,"express":true}`, string(a))
	assert.Equal(t, a, b)
}

func TestGenerate_DeterministicPerVUAndIteration(t *testing.T) {
	gen, err := Compile(orderPayload(), WithSeed(42))
	require.NoError(t, err)

	first, err := gen.Generate(3, 7)
	require.NoError(t, err)
	again, err := gen.Generate(3, 7)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(again))

	other, err := gen.Generate(3, 8)
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(other))

	reseeded, err := Compile(orderPayload(), WithSeed(43))
	require.NoError(t, err)
	differentSeed, err := reseeded.Generate(3, 7)
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(differentSeed))
}

func TestGenerate_RangesAndProduct(t *testing.T) {
	gen, err := Compile(orderPayload(), WithSeed(1))
	require.NoError(t, err)

	for iter := int64(0); iter < 200; iter++ {
		body, err := gen.Generate(1, iter)
		require.NoError(t, err)
		m := decode(t, body)

		customer := m["customerId"].(float64)
		assert.True(t, customer >= 0 && customer <= 9999, "customerId %v", customer)
		product := m["productId"].(float64)
		assert.True(t, product >= 1 && product <= 20, "productId %v", product)
		quantity := m["quantity"].(float64)
		assert.True(t, quantity >= 1 && quantity <= 5, "quantity %v", quantity)
		assert.Equal(t, quantity*500, m["totalAmount"])
		assert.Len(t, m["requestId"], 36)
	}
}

func TestGenerate_FieldOrderPreserved(t *testing.T) {
	gen, err := Compile(orderPayload(), WithSeed(1))
	require.NoError(t, err)

	body, err := gen.Generate(1, 1)
	require.NoError(t, err)

	s := string(body)
	last := -1
	for _, name := range []string{"customerId", "productId", "quantity", "totalAmount", "requestId"} {
		idx := strings.Index(s, `"`+name+`"`)
		require.GreaterOrEqual(t, idx, 0, "missing %s", name)
		assert.Greater(t, idx, last, "%s out of order", name)
		last = idx
	}
}

func TestGenerate_Template(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind: config.PayloadRandomized,
		Fields: []config.FieldConfig{
			{Name: "customerId", Type: config.FieldTemplate, Template: "cust-${VU}-${ITER}"},
			{Name: "ref", Type: config.FieldTemplate, Template: `{{randomChoice "a" "b"}}-{{randomInt 1 3}}`},
		},
	})
	require.NoError(t, err)

	body, err := gen.Generate(4, 11)
	require.NoError(t, err)
	m := decode(t, body)

	assert.Equal(t, "cust-4-11", m["customerId"])
	assert.Regexp(t, `^[ab]-[123]$`, m["ref"])
}

func TestGenerate_Choice(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind:   config.PayloadRandomized,
		Fields: []config.FieldConfig{{Name: "tier", Type: config.FieldChoice, Choices: []interface{}{"gold", "silver"}}},
	})
	require.NoError(t, err)

	seen := map[interface{}]bool{}
	for i := int64(0); i < 50; i++ {
		body, err := gen.Generate(1, i)
		require.NoError(t, err)
		seen[decode(t, body)["tier"]] = true
	}
	assert.Equal(t, map[interface{}]bool{"gold": true, "silver": true}, seen)
}

func TestGenerate_BulkSize(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind: config.PayloadBulk,
		Fields: []config.FieldConfig{
			{Name: "customerId", Type: config.FieldTemplate, Template: "cust-${VU}-${ITER}"},
		},
		Bulk: &config.BulkConfig{Field: "description", SizeBytes: 200 * 1024},
	})
	require.NoError(t, err)

	body, err := gen.Generate(1, 2)
	require.NoError(t, err)
	m := decode(t, body)

	desc := m["description"].(string)
	assert.Len(t, desc, 200*1024)
	assert.Equal(t, strings.Repeat("X", 200*1024), desc)
	assert.Equal(t, "cust-1-2", m["customerId"])
}

func TestGenerate_BulkCustomFillAndZeroSize(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind: config.PayloadBulk,
		Bulk: &config.BulkConfig{Field: "blob", SizeBytes: 5, Fill: "ab"},
	})
	require.NoError(t, err)
	body, err := gen.Generate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"blob":"ababa"}`, string(body))

	gen, err = Compile(config.PayloadConfig{
		Kind: config.PayloadBulk,
		Bulk: &config.BulkConfig{Field: "blob", SizeBytes: 0},
	})
	require.NoError(t, err)
	body, err = gen.Generate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"blob":""}`, string(body))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.PayloadConfig
		wantErr string
	}{
		{
			name:    "negative bulk size",
			cfg:     config.PayloadConfig{Kind: config.PayloadBulk, Bulk: &config.BulkConfig{Field: "d", SizeBytes: -1}},
			wantErr: "negative",
		},
		{
			name:    "bulk without section",
			cfg:     config.PayloadConfig{Kind: config.PayloadBulk},
			wantErr: "bulk section",
		},
		{
			name:    "missing field name",
			cfg:     config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{{Type: config.FieldInt}}},
			wantErr: "name is required",
		},
		{
			name: "min above max",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "n", Type: config.FieldInt, Min: f64(10), Max: f64(1)},
			}},
			wantErr: "min 10 > max 1",
		},
		{
			name: "empty choices",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "c", Type: config.FieldChoice},
			}},
			wantErr: "choices cannot be empty",
		},
		{
			name: "bad template",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "t", Type: config.FieldTemplate, Template: "{{.VU"},
			}},
			wantErr: "invalid template",
		},
		{
			name: "product of later field",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "total", Type: config.FieldProduct, Of: []string{"quantity"}},
				{Name: "quantity", Type: config.FieldInt},
			}},
			wantErr: "must be an earlier field",
		},
		{
			name: "product of a string field",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "id", Type: config.FieldUUID},
				{Name: "total", Type: config.FieldProduct, Of: []string{"id"}},
			}},
			wantErr: "is a uuid field",
		},
		{
			name: "int range wider than int64",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "n", Type: config.FieldInt, Min: f64(-9e18), Max: f64(9e18)},
			}},
			wantErr: "is wider than",
		},
		{
			name: "int bound outside int64",
			cfg: config.PayloadConfig{Kind: config.PayloadRandomized, Fields: []config.FieldConfig{
				{Name: "n", Type: config.FieldInt, Min: f64(0), Max: f64(1e19)},
			}},
			wantErr: "exceeds int64",
		},
		{
			name: "fixed payload with random field",
			cfg: config.PayloadConfig{Kind: config.PayloadFixed, Fields: []config.FieldConfig{
				{Name: "customerId", Value: "cust-1"},
				{Name: "quantity", Type: config.FieldInt, Min: f64(1), Max: f64(5)},
			}},
			wantErr: `field "quantity" has type int`,
		},
		{
			name:    "unknown kind",
			cfg:     config.PayloadConfig{Kind: "xml"},
			wantErr: "unknown payload kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGenerate_WideIntRange(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind: config.PayloadRandomized,
		Fields: []config.FieldConfig{
			{Name: "n", Type: config.FieldInt, Min: f64(-4e18), Max: f64(4e18)},
		},
	}, WithSeed(3))
	require.NoError(t, err)

	for i := int64(0); i < 50; i++ {
		body, err := gen.Generate(1, i)
		require.NoError(t, err)
		var m map[string]json.Number
		dec := json.NewDecoder(strings.NewReader(string(body)))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&m))
		n, err := m["n"].Int64()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(-4e18))
		assert.LessOrEqual(t, n, int64(4e18))
	}
}

func TestGenerate_TemplateRuntimeError(t *testing.T) {
	gen, err := Compile(config.PayloadConfig{
		Kind:   config.PayloadRandomized,
		Fields: []config.FieldConfig{{Name: "n", Type: config.FieldTemplate, Template: "{{randomInt 5 1}}"}},
	})
	require.NoError(t, err)

	_, err = gen.Generate(1, 1)
	assert.Error(t, err)
}
