package httpsession

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTaskMap(t *testing.T) {
	t.Run("given an inserted pairing, then both directions resolve", func(t *testing.T) {
		m := newRequestTaskMap()
		req := &Request{id: uuid.New()}

		m.insert(1, req)

		got, ok := m.requestForTask(1)
		require.True(t, ok)
		assert.Same(t, req, got)

		taskID, ok := m.taskForRequest(req)
		require.True(t, ok)
		assert.Equal(t, int64(1), taskID)
		assert.Equal(t, 1, m.count())
	})

	t.Run("given a retry inserts a new task, then the old pairing is displaced", func(t *testing.T) {
		m := newRequestTaskMap()
		req := &Request{id: uuid.New()}

		m.insert(1, req)
		m.insert(2, req)

		_, ok := m.requestForTask(1)
		assert.False(t, ok, "the retried-away task should be forgotten")

		got, ok := m.requestForTask(2)
		require.True(t, ok)
		assert.Same(t, req, got)

		taskID, ok := m.taskForRequest(req)
		require.True(t, ok)
		assert.Equal(t, int64(2), taskID)
		assert.Equal(t, 1, m.count())
	})

	t.Run("given removeTask, then late lookups miss and repeats are no-ops", func(t *testing.T) {
		m := newRequestTaskMap()
		req := &Request{id: uuid.New()}
		m.insert(1, req)

		m.removeTask(1)
		m.removeTask(1)
		m.removeTask(99)

		_, ok := m.requestForTask(1)
		assert.False(t, ok)
		_, ok = m.taskForRequest(req)
		assert.False(t, ok)
		assert.True(t, m.empty())
	})

	t.Run("given removeTask for a displaced task, then the live pairing survives", func(t *testing.T) {
		m := newRequestTaskMap()
		req := &Request{id: uuid.New()}
		m.insert(1, req)
		m.insert(2, req)

		// A late completion callback for the old task must not unhook the
		// retry's task.
		m.removeTask(1)

		taskID, ok := m.taskForRequest(req)
		require.True(t, ok)
		assert.Equal(t, int64(2), taskID)
	})

	t.Run("given removeRequest, then its task is dropped", func(t *testing.T) {
		m := newRequestTaskMap()
		first := &Request{id: uuid.New()}
		second := &Request{id: uuid.New()}
		m.insert(1, first)
		m.insert(2, second)

		m.removeRequest(first)
		m.removeRequest(first)

		_, ok := m.requestForTask(1)
		assert.False(t, ok)
		got, ok := m.requestForTask(2)
		require.True(t, ok)
		assert.Same(t, second, got)
		assert.Equal(t, 1, m.count())
	})
}
