package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type attempt struct {
	ID    string `json:"id" yaml:"id"`
	TxID  uint64 `json:"txid" yaml:"txid"`
	State string `json:"state" yaml:"state"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestRender(t *testing.T) {
	data := attempt{ID: "a1", TxID: 42, State: "ADOPTED"}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, data, nil))
	var fromJSON attempt
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, data, fromJSON)

	buf.Reset()
	require.NoError(t, Render(&buf, FormatYAML, data, nil))
	var fromYAML attempt
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, data, fromYAML)

	buf.Reset()
	called := false
	require.NoError(t, Render(&buf, FormatTable, data, func(w io.Writer) error {
		called = true
		_, err := io.WriteString(w, "table")
		return err
	}))
	assert.True(t, called)
	assert.Equal(t, "table", buf.String())

	boom := errors.New("boom")
	err := Render(&buf, FormatTable, data, func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Error(t, Render(&buf, Format("xml"), data, nil))
}

func TestRenderTableWithoutRendererFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, map[string]bool{"enabled": true}, nil))
	assert.JSONEq(t, `{"enabled":true}`, buf.String())
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Success("saved")
	NewPrinter(&buf, false).Warning("1 directory removed")
	NewPrinter(&buf, false).Error("failed")
	assert.Equal(t, "saved\n1 directory removed\nfailed\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, true).Success("saved")
	assert.Equal(t, "\033[32msaved\033[0m\n", buf.String())
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Directory", "Role", "Healthy")
	table.AddRow("/data/name1", "IMAGE_AND_EDITS", "true")
	table.AddRow("/data/name2", "EDITS", "false")
	assert.Equal(t, 2, table.Len())

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "DIRECTORY")
	assert.Contains(t, out, "HEALTHY")
	assert.Contains(t, out, "/data/name1")
	assert.Contains(t, out, "IMAGE_AND_EDITS")
	assert.Contains(t, out, "false")
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{
		{"Namespace ID", "42"},
		{"Safe mode", "false"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Namespace ID")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "Safe mode")
}
