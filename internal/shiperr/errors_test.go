package shiperr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKinds_SurviveWrapping(t *testing.T) {
	err := errors.Wrap(Validation("weightGrams", "is required"), "create label")
	require.True(t, IsValidation(err))
	require.False(t, IsNotFound(err))
	require.Contains(t, err.Error(), "weightGrams")

	err = errors.Wrap(NotFound("shipment", 42), "load")
	require.True(t, IsNotFound(err))
	require.Contains(t, err.Error(), "shipment 42 not found")

	require.True(t, IsConflict(Conflict("label", 7, "already exists")))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestCarrierError_Message(t *testing.T) {
	cause := errors.New("boom")
	err := Carrier("BLAZE", 503, true, cause)
	require.True(t, IsCarrier(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "carrier BLAZE: http 503: unexpected response: boom", err.Error())

	var e *Error
	require.True(t, errors.As(err, &e))
	require.True(t, e.Retryable)
}
