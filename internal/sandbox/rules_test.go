package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowship/arrowship/pkg/ingesterr"
	"github.com/arrowship/arrowship/pkg/transport"
)

func TestParseRule(t *testing.T) {
	r, err := ParseRule("name=bad")
	require.NoError(t, err)
	assert.Equal(t, Rule{Column: "name", Equals: "bad"}, r)

	r, err = ParseRule("id=7:ConversionError")
	require.NoError(t, err)
	assert.Equal(t, Rule{Column: "id", Equals: "7", Kind: ingesterr.KindConversion}, r)

	r, err = ParseRule("ts=12:30")
	require.NoError(t, err)
	assert.Equal(t, "12:30", r.Equals, "unknown kind suffix stays part of the value")

	r, err = ParseRule("!name")
	require.NoError(t, err)
	assert.True(t, r.Required)

	for _, bad := range []string{"", "!", "=x", "novalue"} {
		_, err := ParseRule(bad)
		assert.Error(t, err, bad)
	}
}

func TestRule_Apply(t *testing.T) {
	row := transport.Row{Index: 4, Values: map[string]any{"id": float64(7), "name": nil}}

	fr, hit := Rule{Column: "id", Equals: "7"}.Apply(row)
	require.True(t, hit)
	assert.Equal(t, 4, fr.Index)
	assert.Equal(t, ingesterr.KindTransmission, fr.Kind)

	_, hit = Rule{Column: "id", Equals: "8"}.Apply(row)
	assert.False(t, hit)

	fr, hit = Rule{Column: "name", Required: true, Kind: ingesterr.KindConversion}.Apply(row)
	require.True(t, hit)
	assert.Equal(t, "ConversionError: column name is required", fr.String())

	_, hit = Rule{Column: "id", Required: true}.Apply(row)
	assert.False(t, hit)

	fr, _ = Rule{Column: "id", Equals: "7", Message: "blocked"}.Apply(row)
	assert.Equal(t, "TransmissionError: blocked", fr.String())
}
