package platform

import (
	"os"
	"os/signal"
	"sync"

	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/logging"
)

// notifier is the os/signal plumbing shared by the real platforms.
type notifier struct {
	sigs   []os.Signal
	logger *logging.Logger

	mu       sync.Mutex
	ch       chan os.Signal
	stop     chan struct{}
	bound    bool
	released bool
}

func newNotifier(sigs ...os.Signal) *notifier {
	return &notifier{
		sigs:   sigs,
		logger: logging.New().WithComponent("platform"),
	}
}

func (n *notifier) Signals() []os.Signal {
	return append([]os.Signal(nil), n.sigs...)
}

func (n *notifier) Bind(h Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.released {
		return ErrReleased
	}
	if n.bound {
		return ErrAlreadyBound
	}
	n.bound = true

	n.ch = make(chan os.Signal, len(n.sigs))
	n.stop = make(chan struct{})
	signal.Notify(n.ch, n.sigs...)

	go n.loop(n.ch, n.stop, h)
	return nil
}

func (n *notifier) loop(ch <-chan os.Signal, stop <-chan struct{}, h Handler) {
	for {
		select {
		case <-stop:
			return
		case sig := <-ch:
			deliver(n.logger, h, sig)
		}
	}
}

func (n *notifier) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.released {
		return
	}
	n.released = true
	if !n.bound {
		return
	}
	signal.Stop(n.ch)
	signal.Reset(n.sigs...)
	close(n.stop)
}

// deliver invokes h and keeps panics inside.
func deliver(logger *logging.Logger, h Handler, sig os.Signal) {
	defer func() {
		if r := recover(); r != nil {
			err := pgerrors.Panic(r, pgerrors.WithSignal(sig.String()))
			logger.Error("signal handler panicked", map[string]interface{}{
				"signal": sig.String(),
				"error":  err.Error(),
			})
		}
	}()
	h(sig)
}
