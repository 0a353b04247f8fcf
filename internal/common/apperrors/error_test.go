package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHierarchy(t *testing.T) {
	base := New("fleet error").SetStatusCode(http.StatusInternalServerError)
	derived := base.New("no capacity available").SetStatusCode(http.StatusConflict)

	assert.Equal(t, "no capacity available", derived.Error())
	assert.Equal(t, http.StatusConflict, derived.StatusCode())
	assert.True(t, derived.Is(base))
	assert.False(t, base.Is(derived))

	instance := derived.New("no capacity in region us-east1")
	assert.True(t, instance.Is(derived))
	assert.True(t, instance.Is(base))
	assert.Equal(t, http.StatusConflict, instance.StatusCode())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	base := New("provisioner failure").SetStatusCode(http.StatusBadGateway)
	err := base.New("apply failed").Err(cause)

	assert.Equal(t, "apply failed", err.Error())
	assert.True(t, err.Is(cause))

	err.SetExpandError(true)
	assert.Equal(t, "apply failed: connection refused", err.ErrorAll())
}

func TestErrorAllWithoutExpansion(t *testing.T) {
	err := New("db error").New("shard not found").Err(fmt.Errorf("sql: no rows"))
	assert.Equal(t, "shard not found", err.ErrorAll())
}
