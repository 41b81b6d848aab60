package framework

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taggedRequest struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count"`
}

func TestDecode(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name": "a", "count": 2}`))

	var decoded taggedRequest
	err := Decode(req, &decoded)
	assert.NoError(t, err)
	assert.Equal(t, "a", decoded.Name)
	assert.Equal(t, 2, decoded.Count)
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("not json"))

	var decoded taggedRequest
	err := Decode(req, &decoded)
	require.Error(t, err)

	var safeErr *SafeError
	require.True(t, errors.As(err, &safeErr))
	assert.Equal(t, http.StatusBadRequest, safeErr.StatusCode)
}

func TestDecodeEnforcesValidationTags(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"count": 2}`))

	var decoded taggedRequest
	err := Decode(req, &decoded)
	require.Error(t, err)

	var safeErr *SafeError
	require.True(t, errors.As(err, &safeErr))
	assert.Equal(t, http.StatusBadRequest, safeErr.StatusCode)
	require.Len(t, safeErr.Fields, 1)
	// field errors use json tag names
	assert.Equal(t, "name", safeErr.Fields[0].Field)
}
