package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
# a comment
[dir]
alias = sat
path = /data/incoming/sat
max_parallel = 2
retention = 3600

[filter]
*.dat
*.wmo

[recipient]
url = ftp://user@host.example.com/incoming
priority = 5
options = rename=dot,archive=3600

[recipient]
url = sftp://other.example.com/drop
priority = 3
`

func TestParseDirConfigExpandsOneTuplePerRecipient(t *testing.T) {
	tuples, err := ParseDirConfig(strings.NewReader(sampleConfig), 7)
	require.NoError(t, err)
	require.Len(t, tuples, 2)

	assert.Equal(t, "sat", tuples[0].Dir.Alias)
	assert.Equal(t, []string{"*.dat", "*.wmo"}, tuples[0].Filters)
	assert.Equal(t, "ftp://user@host.example.com/incoming", tuples[0].Recipient.URL)
	assert.Equal(t, byte('5'), tuples[0].Recipient.Priority)
	assert.Equal(t, []string{"rename=dot", "archive=3600"}, tuples[0].Recipient.LocalOptions)
	assert.Equal(t, uint32(7), tuples[0].DirConfigID)

	assert.Equal(t, "sftp://other.example.com/drop", tuples[1].Recipient.URL)
	assert.Equal(t, byte('3'), tuples[1].Recipient.Priority)
	assert.Equal(t, []string{"*.dat", "*.wmo"}, tuples[1].Filters, "second recipient reuses the directory's filter block")
}

func TestParseDirConfigDefaultsPriority(t *testing.T) {
	const cfg = `
[dir]
alias = a
path = /x
[filter]
*.txt
[recipient]
url = ftp://h/x
`
	tuples, err := ParseDirConfig(strings.NewReader(cfg), 1)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, byte('5'), tuples[0].Recipient.Priority)
}

func TestParseDirConfigRejectsRecipientBeforeDir(t *testing.T) {
	const cfg = `
[recipient]
url = ftp://h/x
`
	_, err := ParseDirConfig(strings.NewReader(cfg), 1)
	assert.Error(t, err)
}

func TestParseDirConfigRejectsUnknownSection(t *testing.T) {
	const cfg = `
[bogus]
foo = bar
`
	_, err := ParseDirConfig(strings.NewReader(cfg), 1)
	assert.Error(t, err)
}

func TestParseDirConfigRejectsBadPriority(t *testing.T) {
	const cfg = `
[dir]
alias = a
path = /x
[recipient]
url = ftp://h/x
priority = 99
`
	_, err := ParseDirConfig(strings.NewReader(cfg), 1)
	assert.Error(t, err)
}
