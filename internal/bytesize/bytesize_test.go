package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"32k", 32 * KiB},
		{"64m", 64 * MiB},
		{"1g", GiB},
		{"100MB", 100 * MB},
		{"5mb", 5 * MB},
		{"8Mi", 8 * MiB},
		{"8MiB", 8 * MiB},
		{"1.5Gi", GiB + 512*MiB},
		{" 2 Ti ", 2 * TiB},
		{"7B", 7},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12XB", "-5m", "1.2.3m", "99999999999999999999"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestParseOverflow(t *testing.T) {
	_, err := Parse("20000000Ti")
	assert.Error(t, err)
}

func TestMarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{1000, "1000"},
		{32 * KiB, "32Ki"},
		{64 * MiB, "64Mi"},
		{GiB + 512*MiB, "1536Mi"},
		{3 * TiB, "3Ti"},
	}
	for _, tt := range tests {
		out, err := tt.in.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(out))

		var back ByteSize
		require.NoError(t, back.UnmarshalText(out))
		assert.Equal(t, tt.in, back)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.50KiB", ByteSize(1536).String())
	assert.Equal(t, "64.00MiB", (64 * MiB).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}

func TestMustParsePanics(t *testing.T) {
	assert.Equal(t, 4*MiB, MustParse("4m"))
	assert.Panics(t, func() { MustParse("nope") })
}
