package enrich

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUTM(t *testing.T) {
	u, err := url.Parse("https://example.com/?utm_source=Newsletter&utm_medium=email&utm_campaign=spring%20sale&utm_source=ignored")
	require.NoError(t, err)

	utm := ParseUTM(u)
	require.NotNil(t, utm.Source)
	assert.Equal(t, "Newsletter", *utm.Source)
	assert.Equal(t, "email", *utm.Medium)
	assert.Equal(t, "spring sale", *utm.Campaign)
}

func TestParseUTMMissing(t *testing.T) {
	u, err := url.Parse("https://example.com/path?utm_source=&other=1")
	require.NoError(t, err)

	utm := ParseUTM(u)
	require.NotNil(t, utm.Source)
	assert.Equal(t, "", *utm.Source)
	assert.Nil(t, utm.Medium)
	assert.Nil(t, utm.Campaign)
}
