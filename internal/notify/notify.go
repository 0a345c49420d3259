package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/sirupsen/logrus"
)

const queueSize = 32

// Sender abstracts message dispatch so the notifier can be tested
// without hitting real services.
type Sender interface {
	Send(shoutrrrURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// Notifier delivers messages to every configured Shoutrrr URL from a
// background goroutine. Delivery is best effort.
type Notifier struct {
	urls   []string
	sender Sender
	log    logrus.FieldLogger

	ch       chan string
	stopCh   chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New creates a notifier. A nil sender selects ShoutrrrSender.
func New(urls []string, sender Sender, logger logrus.FieldLogger) *Notifier {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{
		urls:   urls,
		sender: sender,
		log:    logger.WithField("component", "notify"),
		ch:     make(chan string, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Enabled reports whether any URL is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.urls) > 0
}

// Start begins dispatching queued messages.
func (n *Notifier) Start() {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.started {
		return
	}
	n.started = true

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case msg := <-n.ch:
				n.deliver(msg)
			case <-n.stopCh:
				for {
					select {
					case msg := <-n.ch:
						n.deliver(msg)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop flushes queued messages and waits for the dispatcher.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
}

// Notify queues message for delivery. It reports false when notifications
// are disabled or the queue is full.
func (n *Notifier) Notify(message string) bool {
	if !n.Enabled() {
		return false
	}
	select {
	case n.ch <- message:
		return true
	default:
		n.log.Warn("notification queue full, dropping message")
		return false
	}
}

// Send delivers message synchronously to every URL.
func (n *Notifier) Send(message string) error {
	var errs []error
	for i, url := range n.urls {
		if err := n.sender.Send(url, message); err != nil {
			errs = append(errs, fmt.Errorf("notify url %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(message string) {
	if err := n.Send(message); err != nil {
		n.log.WithError(err).Warn("notification delivery failed")
	}
}
