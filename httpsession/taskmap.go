package httpsession

import (
	"sync"

	"github.com/google/uuid"
)

// requestTaskMap associates logical requests with their live task, in both
// directions: task callbacks arrive keyed by task id, control calls arrive
// keyed by request. At most one live task per request and one request per
// task id; a retry removes the old pairing before inserting the new one.
//
// The map is the single structure shared between task setup (root queue) and
// callback routing (delegate queue and transport goroutines), so every
// operation takes the one lock and stays O(1).
type requestTaskMap struct {
	mu        sync.Mutex
	byTask    map[int64]*Request
	byRequest map[uuid.UUID]int64
}

func newRequestTaskMap() *requestTaskMap {
	return &requestTaskMap{
		byTask:    make(map[int64]*Request),
		byRequest: make(map[uuid.UUID]int64),
	}
}

// insert pairs taskID with r, displacing any previous task owned by r.
func (m *requestTaskMap) insert(taskID int64, r *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byRequest[r.id]; ok {
		delete(m.byTask, old)
	}
	m.byTask[taskID] = r
	m.byRequest[r.id] = taskID
}

// removeTask drops the pairing for taskID, if present. Removing an unknown
// task is a no-op so that late callbacks stay harmless.
func (m *requestTaskMap) removeTask(taskID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byTask[taskID]
	if !ok {
		return
	}
	delete(m.byTask, taskID)
	if current, ok := m.byRequest[r.id]; ok && current == taskID {
		delete(m.byRequest, r.id)
	}
}

// removeRequest drops r's pairing, if any.
func (m *requestTaskMap) removeRequest(r *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskID, ok := m.byRequest[r.id]
	if !ok {
		return
	}
	delete(m.byRequest, r.id)
	delete(m.byTask, taskID)
}

// requestForTask resolves the owner of taskID. The second return is false
// when the task is no longer registered (finished, cancelled, or retried
// away); callers must treat that as "ignore the callback".
func (m *requestTaskMap) requestForTask(taskID int64) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byTask[taskID]
	return r, ok
}

// taskForRequest resolves r's live task id, if it has one.
func (m *requestTaskMap) taskForRequest(r *Request) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskID, ok := m.byRequest[r.id]
	return taskID, ok
}

func (m *requestTaskMap) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTask)
}

func (m *requestTaskMap) empty() bool {
	return m.count() == 0
}
