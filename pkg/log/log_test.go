package log_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/sciopt/pkg/log"
)

func TestDisabledByDefault(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetLevel(zerolog.Disabled)

	log.GetLogger().Info("should not appear")
	assert.Zero(t, buf.Len())
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetLevel(zerolog.DebugLevel)
	defer log.SetLevel(zerolog.Disabled)

	logger := log.GetLoggerWithName("pounders").With(log.AlgorithmKey, "pounders")
	logger.Info("Iteration finished",
		log.IterationKey, 7,
		log.RadiusKey, 0.05,
	)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &fields))

	assert.Equal(t, "pounders", fields[log.ComponentKey])
	assert.Equal(t, "pounders", fields[log.AlgorithmKey])
	assert.EqualValues(t, 7, fields[log.IterationKey])
	assert.Equal(t, "Iteration finished", fields["message"])
}

func TestOddKeyvalsIgnored(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetLevel(zerolog.DebugLevel)
	defer log.SetLevel(zerolog.Disabled)

	// Trailing key without a value must not panic.
	log.GetLogger().Debug("partial", log.SolverKey, "bntr", "dangling")

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "bntr", fields[log.SolverKey])
	assert.NotContains(t, fields, "dangling")
}
