// Package notify delivers drift alerts through the configured channels,
// rate-limited by a single cooldown gate.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Deliverer sends one alert through one channel.
type Deliverer interface {
	Name() string
	Deliver(message string) error
}

type Notifier struct {
	cooldown   time.Duration
	deliverers []Deliverer

	mu         sync.Mutex
	lastNotify time.Time
	now        func() time.Time
}

func New(cooldown time.Duration, deliverers ...Deliverer) *Notifier {
	return &Notifier{
		cooldown:   cooldown,
		deliverers: deliverers,
		now:        time.Now,
	}
}

// NotifyDrift sends a drift alert unless the cooldown window is still
// open. At most one delivered alert per cooldown window. A cycle where
// every deliverer fails does not advance the cooldown, so the next drift
// can retry immediately instead of going silent for a full window.
// Returns true when at least one channel delivered.
func (n *Notifier) NotifyDrift(goal string, confidence float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if !n.lastNotify.IsZero() {
		elapsed := now.Sub(n.lastNotify)
		if elapsed < n.cooldown {
			remaining := (n.cooldown - elapsed).Round(time.Second)
			log.Printf("[notify] cooldown: %s remaining", remaining)
			return false
		}
	}

	message := fmt.Sprintf("You may be drifting from your goal:\n%s", goal)

	delivered := false
	for _, d := range n.deliverers {
		if err := d.Deliver(message); err != nil {
			log.Printf("[notify] %s delivery failed: %v", d.Name(), err)
			continue
		}
		delivered = true
	}

	if delivered {
		n.lastNotify = now
		log.Printf("[notify] drift alert sent (confidence %.2f)", confidence)
	}
	return delivered
}
