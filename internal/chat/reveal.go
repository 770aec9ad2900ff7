package chat

import "time"

// revealTask plays a reply back one character per tick. It only drives the
// transient display; whoever ends the task commits the full message.
type revealTask struct {
	sessionID string
	message   Message
	interval  time.Duration
	stop      chan struct{}
}

func newRevealTask(sessionID string, msg Message, interval time.Duration) *revealTask {
	return &revealTask{
		sessionID: sessionID,
		message:   msg,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// halt stops the playback goroutine. Caller must ensure it is called once.
func (t *revealTask) halt() {
	close(t.stop)
}

// run shows successive prefixes via frame, then commits. frame returns false
// once the task is no longer current.
func (t *revealTask) run(frame func(*revealTask, string) bool, commit func(*revealTask)) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	runes := []rune(t.message.Content)
	for i := 1; i <= len(runes); i++ {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
		if !frame(t, string(runes[:i])) {
			return
		}
	}

	select {
	case <-t.stop:
		return
	case <-ticker.C:
	}
	commit(t)
}
