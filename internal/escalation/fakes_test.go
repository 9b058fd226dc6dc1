package escalation

import (
	"context"
	"errors"
	"sync"
	"time"

	"followup-escalator/internal/models"
	"followup-escalator/internal/repository"
)

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[string]models.FollowUp
	err   error
}

func newFakeTasks(tasks ...models.FollowUp) *fakeTasks {
	f := &fakeTasks{tasks: make(map[string]models.FollowUp)}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) FindByID(_ context.Context, id string) (*models.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (f *fakeTasks) FindOverdueIncomplete(_ context.Context, now time.Time) ([]models.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.FollowUp
	for _, t := range f.tasks {
		if t.OverdueAt(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeOrg struct {
	managers map[string]string
	admins   []string
	err      error
}

func (o *fakeOrg) ManagerOf(_ context.Context, userID string) (*string, error) {
	if o.err != nil {
		return nil, o.err
	}
	m, ok := o.managers[userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (o *fakeOrg) AdminIDs(context.Context) ([]string, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.admins, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	fail map[string]bool
}

func (n *fakeNotifier) Notify(_ context.Context, msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[msg.UserID] {
		return errors.New("sink unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.UserID)
	}
	return out
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []models.ActivityLog
	err     error
}

func (a *fakeActivity) Record(_ context.Context, entry *models.ActivityLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, *entry)
	return nil
}

type fakeAlerter struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (a *fakeAlerter) Alert(_ context.Context, title, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, Message{Title: title, Body: body})
	return a.err
}

type captureQueue struct {
	mu   sync.Mutex
	jobs []models.EscalationJob
	seen map[string]bool
	err  error
}

func (q *captureQueue) Enqueue(_ context.Context, job models.EscalationJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.seen == nil {
		q.seen = make(map[string]bool)
	}
	if q.seen[job.UniqueKey()] {
		return true, nil
	}
	q.seen[job.UniqueKey()] = true
	q.jobs = append(q.jobs, job)
	return false, nil
}

func strPtr(s string) *string { return &s }
