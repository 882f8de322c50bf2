package errkind_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitaKurtin/dbnd/internal/errkind"
)

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transient", errkind.Transient.String())
	assert.Equal(t, "auth", errkind.Auth.String())
	assert.Equal(t, "malformed_response", errkind.Malformed.String())
	assert.Equal(t, "persistence", errkind.Persistence.String())
	assert.Equal(t, "unknown", errkind.Unknown.String())
	assert.Equal(t, "unknown", errkind.Kind(99).String())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("NilStaysNil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, errkind.Wrap(errkind.Transient, nil))
	})

	t.Run("PreservesCause", func(t *testing.T) {
		t.Parallel()
		err := errkind.Wrap(errkind.Persistence, io.ErrUnexpectedEOF)
		require.Error(t, err)
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
		assert.Equal(t, errkind.Persistence, errkind.Of(err))
	})
}

func TestOf(t *testing.T) {
	t.Parallel()

	t.Run("Constructors", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, errkind.Transient, errkind.Of(errkind.Transientf("dial tcp: timeout")))
		assert.Equal(t, errkind.Auth, errkind.Of(errkind.Authf("token expired")))
		assert.Equal(t, errkind.Malformed, errkind.Of(errkind.Malformedf("missing watermark")))
		assert.Equal(t, errkind.Persistence, errkind.Of(errkind.Persistencef("save failed")))
	})

	t.Run("UnclassifiedIsUnknown", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, errkind.Unknown, errkind.Of(errors.New("boom")))
		assert.Equal(t, errkind.Unknown, errkind.Of(nil))
	})

	t.Run("SeesThroughWrapping", func(t *testing.T) {
		t.Parallel()
		inner := errkind.Authf("bad credentials")
		outer := fmt.Errorf("sync source alpha: %w", inner)
		assert.Equal(t, errkind.Auth, errkind.Of(outer))
		assert.True(t, errkind.Is(outer, errkind.Auth))
	})
}

func TestIs(t *testing.T) {
	t.Parallel()

	err := errkind.Transientf("connection reset")
	assert.True(t, errkind.Is(err, errkind.Transient))
	assert.False(t, errkind.Is(err, errkind.Auth))
	assert.False(t, errkind.Is(nil, errkind.Unknown))
}
