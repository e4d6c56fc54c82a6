package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_Printing(t *testing.T) {
	s := Secret("enctoken-abc")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, "enctoken-abc", s.Reveal())

	assert.Equal(t, "", Secret("").String())
}

func TestSecret_Marshaling(t *testing.T) {
	holder := struct {
		Token Secret `json:"token" yaml:"token"`
	}{Token: "abc"}

	data, err := json.Marshal(holder)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))

	out, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Contains(t, string(out), "[REDACTED]")
	assert.NotContains(t, string(out), "abc")
}

func TestSecret_UnmarshalsPlainValue(t *testing.T) {
	var holder struct {
		Token Secret `yaml:"token"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("token: abc"), &holder))
	assert.Equal(t, "abc", holder.Token.Reveal())
}
