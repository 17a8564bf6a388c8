package toolgate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectSchemaPrimitives(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"name":    StringParam(),
		"count":   NumberParam(),
		"enabled": BoolParam(),
	})

	assert.Equal(t, "object", out.Type)
	assert.Equal(t, "string", out.Properties["name"].Type)
	assert.Equal(t, "number", out.Properties["count"].Type)
	assert.Equal(t, "boolean", out.Properties["enabled"].Type)
	assert.Equal(t, []string{"count", "enabled", "name"}, out.Required)
}

func TestProjectSchemaOptionalAndDefault(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"required": StringParam(),
		"optional": StringParam().AsOptional(),
		"defaulted": NumberParam().WithDefault(10),
	})

	assert.Equal(t, []string{"required"}, out.Required)
	assert.Equal(t, 10, out.Properties["defaulted"].Default)
}

func TestProjectSchemaArray(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"tags":   ArrayOf(StringParam()),
		"matrix": ArrayOf(ArrayOf(NumberParam())),
	})

	tags := out.Properties["tags"]
	assert.Equal(t, "array", tags.Type)
	assert.Equal(t, "string", tags.Items.Type)

	matrix := out.Properties["matrix"]
	assert.Equal(t, "array", matrix.Type)
	assert.Equal(t, "array", matrix.Items.Type)
	assert.Equal(t, "number", matrix.Items.Items.Type)
}

func TestProjectSchemaArrayWithoutElementFallsBack(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"broken": {Kind: KindArray},
	})

	broken := out.Properties["broken"]
	assert.Equal(t, "array", broken.Type)
	require.NotNil(t, broken.Items)
	assert.Equal(t, "string", broken.Items.Type)
}

func TestProjectSchemaEnum(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"level": EnumOf("debug", "info", "warn"),
	})

	level := out.Properties["level"]
	assert.Equal(t, "string", level.Type)
	assert.Equal(t, []string{"debug", "info", "warn"}, level.Enum)
}

func TestProjectSchemaNestedObject(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"filter": ObjectOf(map[string]ParamSchema{
			"field": StringParam(),
			"limit": NumberParam().AsOptional(),
		}),
	})

	filter := out.Properties["filter"]
	assert.Equal(t, "object", filter.Type)
	assert.Equal(t, "string", filter.Properties["field"].Type)
	assert.Equal(t, []string{"field"}, filter.Required)
}

func TestProjectSchemaRecord(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"labels": RecordParam(),
	})

	labels := out.Properties["labels"]
	assert.Equal(t, "object", labels.Type)
	assert.True(t, labels.AdditionalProperties)
}

func TestProjectSchemaUnknownKindDegrades(t *testing.T) {
	out := ProjectSchema(map[string]ParamSchema{
		"mystery": {Kind: SchemaKind("garbage")},
		"empty":   {},
	})

	assert.Equal(t, "string", out.Properties["mystery"].Type)
	assert.Equal(t, "string", out.Properties["empty"].Type)
}

func TestProjectSchemaEmpty(t *testing.T) {
	out := ProjectSchema(nil)

	assert.Equal(t, "object", out.Type)
	assert.Empty(t, out.Required)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(data))
}

func TestProjectSchemaDepthGuard(t *testing.T) {
	deep := StringParam()
	for i := 0; i < maxSchemaDepth*2; i++ {
		deep = ArrayOf(deep)
	}

	// Must degrade instead of overflowing.
	out := ProjectSchema(map[string]ParamSchema{"deep": deep})
	assert.Equal(t, "array", out.Properties["deep"].Type)
}
