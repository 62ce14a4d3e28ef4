package notification

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/gym-checkout/internal/email"
	"go.uber.org/zap"
)

var ErrInvalidReminder = errors.New("reminder needs a user id and a remind time")

const (
	// DefaultRetryDelay is the wait before a failed send is tried again
	DefaultRetryDelay = time.Minute
	maxAttempts       = 3
)

type entry struct {
	reminder Reminder
	attempts int
	index    int
}

// reminderQueue is a min-heap on RemindAt
type reminderQueue []*entry

func (q reminderQueue) Len() int { return len(q) }
func (q reminderQueue) Less(i, j int) bool {
	return q[i].reminder.RemindAt.Before(q[j].reminder.RemindAt)
}
func (q reminderQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *reminderQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *reminderQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Scheduler holds renewal reminders until they are due and mails them.
// Each user has at most one pending reminder; a newer one replaces it.
type Scheduler struct {
	mu     sync.Mutex
	queue  reminderQueue
	byUser map[string]*entry
	wake   chan struct{}

	sender     email.Sender
	now        func() time.Time
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewScheduler(sender email.Sender, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		byUser:     make(map[string]*entry),
		wake:       make(chan struct{}, 1),
		sender:     sender,
		now:        time.Now,
		retryDelay: DefaultRetryDelay,
		logger:     logger.Named("reminder_scheduler"),
	}
}

// Handle decodes a reminder message. It is a kafka.MessageHandler.
func (s *Scheduler) Handle(_ context.Context, _, value []byte) error {
	var r Reminder
	if err := json.Unmarshal(value, &r); err != nil {
		return fmt.Errorf("unmarshal reminder: %w", err)
	}
	return s.Add(r)
}

// Add schedules r, replacing any pending reminder of the same user.
func (s *Scheduler) Add(r Reminder) error {
	if r.UserID == "" || r.RemindAt.IsZero() {
		return ErrInvalidReminder
	}

	s.mu.Lock()
	if e, ok := s.byUser[r.UserID]; ok {
		e.reminder = r
		e.attempts = 0
		heap.Fix(&s.queue, e.index)
	} else {
		e := &entry{reminder: r}
		heap.Push(&s.queue, e)
		s.byUser[r.UserID] = e
	}
	s.mu.Unlock()

	s.logger.Debug("reminder scheduled",
		zap.String("user_id", r.UserID),
		zap.Time("remind_at", r.RemindAt),
	)
	s.signal()
	return nil
}

// Pending returns the number of reminders not yet sent
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run sends due reminders until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		e, wait := s.next()
		if e != nil {
			s.fire(ctx, e)
			continue
		}

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-s.wake:
				t.Stop()
			case <-t.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// next pops the earliest reminder if it is due. Otherwise it returns how
// long until it is, or zero when the queue is empty.
func (s *Scheduler) next() (*entry, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil, 0
	}
	head := s.queue[0]
	wait := head.reminder.RemindAt.Sub(s.now())
	if wait > 0 {
		return nil, wait
	}
	heap.Pop(&s.queue)
	delete(s.byUser, head.reminder.UserID)
	return head, 0
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	r := e.reminder
	err := s.sender.SendRenewalReminder(ctx, r)
	if err == nil {
		s.logger.Info("renewal reminder sent",
			zap.String("user_id", r.UserID),
			zap.String("order_id", r.OrderID),
		)
		return
	}

	e.attempts++
	if e.attempts >= maxAttempts || ctx.Err() != nil {
		s.logger.Error("renewal reminder dropped",
			zap.String("user_id", r.UserID),
			zap.Int("attempts", e.attempts),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("renewal reminder failed, retrying",
		zap.String("user_id", r.UserID),
		zap.Int("attempts", e.attempts),
		zap.Error(err),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, replaced := s.byUser[r.UserID]; replaced {
		return
	}
	e.reminder.RemindAt = s.now().Add(s.retryDelay)
	heap.Push(&s.queue, e)
	s.byUser[r.UserID] = e
}
