package retry

import (
	"errors"
	"testing"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(attempts uint) []retry.Option {
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(0),
		retry.MaxDelay(0),
		retry.LastErrorOnly(true),
	}
}

func TestDo(t *testing.T) {
	t.Run("should return the value once the call succeeds", func(t *testing.T) {
		calls := 0
		cfg := Config[int]{Options: fastOptions(5)}

		v, err := cfg.Do(func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("should not retry errors the predicate rejects", func(t *testing.T) {
		calls := 0
		permanent := errors.New("bad input")
		cfg := Config[int]{
			If:      func(err error) bool { return !errors.Is(err, permanent) },
			Options: fastOptions(5),
		}

		_, err := cfg.Do(func() (int, error) {
			calls++
			return 0, permanent
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("should surface the last error after exhausting attempts", func(t *testing.T) {
		calls := 0
		cfg := Config[int]{Options: fastOptions(3)}

		_, err := cfg.Do(func() (int, error) {
			calls++
			return 0, errors.New("still down")
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorContains(t, err, "still down")
	})
}
