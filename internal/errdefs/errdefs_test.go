package errdefs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/server/internal/errdefs"
)

func TestStatusCode(t *testing.T) {
	t.Run("defaults to internal server error", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, errdefs.StatusCode(errors.New("boom")))
	})
	t.Run("reads wrapped status", func(t *testing.T) {
		err := fmt.Errorf("could not decode: %w", errdefs.NewStatusError(http.StatusBadRequest, errors.New("bad json")))
		assert.Equal(t, http.StatusBadRequest, errdefs.StatusCode(err))
		assert.Equal(t, "could not decode: bad json", err.Error())
	})
	t.Run("status text without cause", func(t *testing.T) {
		assert.Equal(t, "Not Found", errdefs.NewStatusError(http.StatusNotFound, nil).Error())
	})
}

func TestConfiguration(t *testing.T) {
	err := errdefs.Configuration("missing %s", "home")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
	assert.Equal(t, "configuration error: missing home", err.Error())
}
