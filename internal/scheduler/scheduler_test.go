package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error adding job with invalid expression")
	}
}

func TestSchedulerAddEvery(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	done := make(chan struct{})
	var once bool
	s.AddEvery(time.Second, func() {
		if !once {
			once = true
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("interval job never fired")
	}
}
