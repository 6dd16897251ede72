package socket

import (
	"sync"
	"time"

	"go-chatsync/internal/clock"
	"go-chatsync/pkg/chat"
)

// Sender is satisfied by *Subscription.
type Sender interface {
	Send(v any) bool
}

// StartHeartbeat sends a ping every interval until the returned stop
// function is called. Pings while the socket is down are dropped like any
// other send.
func StartHeartbeat(s Sender, clk clock.Clock, interval time.Duration) (stop func()) {
	ticker := clk.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				s.Send(chat.Ping())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
