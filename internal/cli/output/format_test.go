package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrinterStatusGoesToStatusWriter(t *testing.T) {
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, FormatJSON, false)

	printer.Success("uploaded %d blocks", 3)
	printer.Warning("1 failed")
	require.NoError(t, printer.Print(map[string]int{"blocks": 3}))

	assert.Equal(t, "uploaded 3 blocks\n1 failed\n", status.String())
	assert.Contains(t, out.String(), `"blocks": 3`)
}

func TestPrinterColor(t *testing.T) {
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, FormatTable, true)

	printer.Success("done")
	assert.Equal(t, "\033[32mdone\033[0m\n", status.String())
}

func TestPrinterTableFallsBackToJSON(t *testing.T) {
	var out bytes.Buffer
	printer := NewPrinter(&out, &out, FormatTable, false)

	require.NoError(t, printer.Print(struct {
		Name string `json:"name"`
	}{Name: "x"}))
	assert.Contains(t, out.String(), `"name": "x"`)
}

func TestPrintYAML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, PrintYAML(&out, map[string]string{"key": "value"}))
	assert.Equal(t, "key: value\n", out.String())
}
