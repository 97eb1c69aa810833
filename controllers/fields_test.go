package controllers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooseStringDecoding(t *testing.T) {
	var in IntentCreateDTO
	require.NoError(t, json.Unmarshal([]byte(`{"amount":10.5,"via_pinpad":false}`), &in))
	assert.Equal(t, looseString("10.5"), in.Amount)
	assert.False(t, in.ViaPinpad.flag(true))

	in = IntentCreateDTO{}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"7.25","via_pinpad":"yes"}`), &in))
	assert.Equal(t, looseString("7.25"), in.Amount)
	assert.True(t, in.ViaPinpad.flag(false))

	in = IntentCreateDTO{}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":null}`), &in))
	assert.Equal(t, looseString(""), in.Amount)
	assert.True(t, in.ViaPinpad.flag(true))
}
