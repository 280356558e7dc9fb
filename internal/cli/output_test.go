package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestPrinterJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newPrinter(&RootOptions{Output: "json"}, buf)

	require.NoError(t, p.print([]sample{{Name: "a", Count: 1}}, nil, nil))

	var got []sample
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []sample{{Name: "a", Count: 1}}, got)
}

func TestPrinterYAML(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newPrinter(&RootOptions{Output: "yaml"}, buf)

	require.NoError(t, p.print(sample{Name: "b", Count: 2}, nil, nil))
	assert.Contains(t, buf.String(), "name: b")

	var got sample
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
}

func TestPrinterTable(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newPrinter(&RootOptions{Output: "table"}, buf)

	err := p.print(nil, []string{"Name", "Count"}, [][]string{{"alpha", "1"}, {"beta", "22"}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "22")
}

func TestPrinterTableEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newPrinter(&RootOptions{Output: "table"}, buf)

	require.NoError(t, p.print(nil, []string{"Name"}, nil))
	assert.Equal(t, "No results.\n", buf.String())
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "-", formatMillis(0))
	assert.Equal(t, "1970-01-01 00:00:01", formatMillis(1000))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "héll…", truncate("héllo world", 5))
}
