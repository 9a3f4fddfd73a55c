package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBool(t *testing.T) {
	assert.True(t, ToBool("yes"))
	assert.True(t, ToBool([]byte("1")))
	assert.True(t, ToBool(1.0))
	assert.False(t, ToBool(nil))
	assert.False(t, ToBool("off"))
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 3, ToInt(float64(3), 0))
	assert.Equal(t, 7, ToInt(" 7 ", 0))
	assert.Equal(t, 5, ToInt(nil, 5))
	assert.Equal(t, 5, ToInt("abc", 5))
}

func TestToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a@x.com"}, ToStringSlice("a@x.com"))
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, ToStringSlice("a@x.com, b@x.com"))
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, ToStringSlice([]interface{}{"a@x.com", nil, " b@x.com "}))
	assert.Nil(t, ToStringSlice(nil))
	assert.Nil(t, ToStringSlice(""))
}
