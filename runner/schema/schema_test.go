package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateJMeterStatistics(t *testing.T) {
	valid := []byte(`{"Total":{"transaction":"Total","sampleCount":10,"errorCount":0,"errorPct":0,
		"meanResTime":245.5,"minResTime":90,"maxResTime":700,"pct1ResTime":390,"pct2ResTime":450,"throughput":12.5}}`)

	ok, msgs, err := Validate(JMeterStatistics, valid)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, msgs)

	ok, msgs, err = Validate(JMeterStatistics, []byte(`{"Total":{"sampleCount":10}}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, msgs)

	ok, _, err = Validate(JMeterStatistics, []byte(`{"GET":{}}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateK6Summary(t *testing.T) {
	valid := []byte(`{"metrics":{"http_req_duration":{"avg":120,"min":40,"med":110,"max":900,"p(90)":210,"p(95)":260},
		"http_reqs":{"count":1200,"rate":20},"http_req_failed":{"value":0.01}}}`)

	ok, _, err := Validate(K6Summary, valid)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, msgs, err := Validate(K6Summary, []byte(`{"metrics":{"http_reqs":{"count":3}}}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, msgs)
}

func TestValidateErrors(t *testing.T) {
	_, _, err := Validate("nope", []byte(`{}`))
	assert.Error(t, err)

	_, _, err = Validate(K6Summary, []byte(`{not json`))
	assert.Error(t, err)
}

func TestLoadCaches(t *testing.T) {
	a, err := Load(K6Summary)
	require.NoError(t, err)
	b, err := Load(K6Summary)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
