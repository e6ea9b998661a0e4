package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaUsesYAMLNames(t *testing.T) {
	schema := Schema()
	require.NotNil(t, schema.Properties)

	_, ok := schema.Properties.Get("storage")
	assert.True(t, ok)
	_, ok = schema.Properties.Get("location_cache")
	assert.True(t, ok)
	_, ok = schema.Properties.Get("LocationCache")
	assert.False(t, ok)
}
