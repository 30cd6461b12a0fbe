package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	got, err := normalizeEmail("email", "  Owner@Bakery.COM ")
	require.NoError(t, err)
	assert.Equal(t, "owner@bakery.com", got)

	for _, bad := range []string{"", "not-an-email", "Owner <owner@bakery.com>", "a@"} {
		_, err := normalizeEmail("email", bad)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), bad)
	}
}

func TestRequireLengthCountsRunes(t *testing.T) {
	v, err := requireLength("name", "  Café  ", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "Café", v)

	_, err = requireLength("name", "   ", 1, 10)
	assert.EqualError(t, err, "name: is required")

	_, err = requireLength("subject", "ab", 3, 10)
	assert.EqualError(t, err, "subject: must be at least 3 characters")

	_, err = requireLength("subject", "abcdefghijk", 3, 10)
	assert.EqualError(t, err, "subject: must be at most 10 characters")
}

func TestOptionalURL(t *testing.T) {
	v, err := optionalURL("website_url", "")
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = optionalURL("website_url", "https://bakery.example")
	require.NoError(t, err)
	assert.Equal(t, "https://bakery.example", v)

	for _, bad := range []string{"ftp://bakery.example", "bakery.example", "https://"} {
		_, err := optionalURL("website_url", bad)
		assert.Error(t, err, bad)
	}
}

func TestOptionalPhone(t *testing.T) {
	v, err := optionalPhone("phone", "+1 (555) 010-2030")
	require.NoError(t, err)
	assert.Equal(t, "+1 (555) 010-2030", v)

	_, err = optionalPhone("phone", "call me")
	assert.Error(t, err)
	_, err = optionalPhone("phone", "123")
	assert.Error(t, err)
}
