package translog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/errkind"
)

func TestSuccessLineCarriesEqualsSign(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Success("archive1", "indir", "report.csv", 4096, 42)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "=", line["sign"])
	assert.Equal(t, "report.csv", line["file"])
	assert.Equal(t, float64(4096), line["bytes"])
}

func TestFailureLineCarriesKindSign(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Failure("archive1", "indir", "report.csv", 42, errkind.Auth, assertErr("bad password"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "!", line["sign"])
	assert.Equal(t, "auth", line["kind"])
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
