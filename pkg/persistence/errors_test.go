package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		t.Parallel()

		instanceErr := persistence.NewRecordError("Get", "instance", "instance-123", persistence.ErrInstanceNotFound)
		barrierErr := persistence.NewRecordError("Update", "barrier", "barrier-456", persistence.ErrConcurrentUpdate)

		assert.True(t, persistence.IsInstanceNotFound(instanceErr))
		assert.False(t, persistence.IsBarrierNotFound(instanceErr))
		assert.True(t, persistence.IsConcurrentUpdate(barrierErr))

		assert.True(t, errors.Is(instanceErr, persistence.ErrInstanceNotFound))
		assert.True(t, persistence.IsConcurrentUpdate(fmt.Errorf("retry exhausted: %w", barrierErr)))
	})

	t.Run("record error contains context", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewRecordError("ClaimWait", "wait", "wait-789", persistence.ErrWaitNotFound)

		assert.Contains(t, err.Error(), "ClaimWait")
		assert.Contains(t, err.Error(), "wait-789")
		assert.Contains(t, err.Error(), "wait group not found")
	})
}
