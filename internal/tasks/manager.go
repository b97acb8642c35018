package tasks

import (
	"sync"
	"time"
)

const MaxLogsPerTask = 1000

// Manager schedules and tracks background tasks, such as the token
// store sweep. Tasks with a positive interval run periodically; any
// task can also be triggered on demand via the admin API.
type Manager struct {
	tasks sync.Map
	stop  chan struct{}
	once  sync.Once
}

func NewManager() *Manager {
	return &Manager{
		stop: make(chan struct{}),
	}
}

func (m *Manager) Register(name string, interval time.Duration, fn TaskFunc) {
	task := &RunnableTask{
		Name:         name,
		Interval:     interval,
		Handler:      fn,
		Logs:         make([]LogEntry, 0),
		registeredAt: time.Now(),
	}
	m.tasks.Store(name, task)

	if interval > 0 {
		go m.scheduler(task)
	}
}

// Trigger runs the named task once, asynchronously.
func (m *Manager) Trigger(name string) error {
	t, ok := m.tasks.Load(name)
	if !ok {
		return TaskNotFoundError{Name: name}
	}
	go t.(*RunnableTask).Run()
	return nil
}

func (m *Manager) ListStatus() []TaskStatus {
	var list []TaskStatus
	m.tasks.Range(func(_, value any) bool {
		list = append(list, value.(*RunnableTask).Status())
		return true
	})
	return list
}

func (m *Manager) GetLogs(name string) ([]LogEntry, error) {
	t, ok := m.tasks.Load(name)
	if !ok {
		return nil, TaskNotFoundError{Name: name}
	}
	return t.(*RunnableTask).GetLogs(), nil
}

// Close stops all periodic schedulers. Runs already in flight finish.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
	})
}

func (m *Manager) scheduler(task *RunnableTask) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			task.Run()
		case <-m.stop:
			return
		}
	}
}
