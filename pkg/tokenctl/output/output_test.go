/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type tokenView struct {
	AccessToken string `json:"accessToken" yaml:"accessToken"`
	ExpiresOn   string `json:"expiresOn" yaml:"expiresOn"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatText},
		{in: "text", want: FormatText},
		{in: "JSON", want: FormatJSON},
		{in: " yaml ", want: FormatYAML},
		{in: "table", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteObject_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, tokenView{AccessToken: "abc", ExpiresOn: "2024-01-01T00:00:00Z"}))

	var result map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, "abc", result["accessToken"])
	assert.Equal(t, "2024-01-01T00:00:00Z", result["expiresOn"])
}

func TestWriteObject_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatYAML, tokenView{AccessToken: "abc"}))

	var result tokenView
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, "abc", result.AccessToken)
}

func TestWriteObject_Errors(t *testing.T) {
	var buf bytes.Buffer
	err := WriteObject(&buf, FormatText, tokenView{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specific formatter")

	err = WriteObject(&buf, Format("xml"), tokenView{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")

	err = WriteObject(&buf, FormatJSON, map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestWriteKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKeyValues(&buf, []string{"sub", "username"}, map[string]string{
		"sub":      "123",
		"username": "alice",
	}))
	assert.Equal(t, "sub:       123\nusername:  alice\n", buf.String())
}
