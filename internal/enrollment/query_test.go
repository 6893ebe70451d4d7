package enrollment

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithoutMarker_PreservesOtherParams(t *testing.T) {
	q := url.Values{
		SuccessMarker: {"true"},
		"tab":         {"billing"},
		"ids":         {"1", "2"},
	}

	out := WithoutMarker(q)

	assert.False(t, HasMarker(out))
	assert.Equal(t, "billing", out.Get("tab"))
	assert.Equal(t, []string{"1", "2"}, out["ids"])
	assert.True(t, HasMarker(q), "input must not be modified")

	out["ids"][0] = "x"
	assert.Equal(t, "1", q["ids"][0], "values must be copied")
}

func TestHasMarker_EmptyValueCounts(t *testing.T) {
	q, err := url.ParseQuery(SuccessMarker)
	assert.NoError(t, err)
	assert.True(t, HasMarker(q))
	assert.False(t, HasMarker(url.Values{}))
}
