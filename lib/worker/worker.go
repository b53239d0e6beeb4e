// Package worker drives the mail pipeline: one send task scanning the
// outbox, one check task per identity fetching inbound mail from the
// DHT, and one delivery task confirming that sent mail was picked up.
package worker

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/dht"
)

// EmailWorker owns the pipeline tasks. started is the sole authority
// on liveness; every task observes it between rounds and tears down at
// the next safe point.
type EmailWorker struct {
	ctx *bote.Context
	dht dht.Client

	started atomic.Bool
	wg      sync.WaitGroup
	stopAll chan struct{}

	mu         sync.Mutex
	checkTasks map[string]chan struct{}
	sendStop   chan struct{}
	delivStop  chan struct{}

	log *logrus.Entry
}

// NewEmailWorker builds the worker over the shared context and the DHT
// facade.
func NewEmailWorker(ctx *bote.Context, client dht.Client) *EmailWorker {
	return &EmailWorker{
		ctx:        ctx,
		dht:        client,
		checkTasks: map[string]chan struct{}{},
		log:        logrus.WithField("component", "worker"),
	}
}

// Start spawns the reconcile loop, which in turn owns every task.
// Safe to call once; a second call is a no-op.
func (w *EmailWorker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.stopAll = make(chan struct{})
	w.wg.Add(1)
	go w.run()
	w.log.Info("started")
}

// Stop tears every task down at its next safe point and waits for
// them.
func (w *EmailWorker) Stop() {
	if !w.started.CompareAndSwap(true, false) {
		return
	}
	close(w.stopAll)
	w.wg.Wait()
	w.log.Info("stopped")
}

// run reconciles the task set against the identity list, then wakes on
// the check interval to do it again. Tasks for vanished identities are
// stopped; missing tasks are started.
func (w *EmailWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.ctx.Config.Intervals.Check)
	defer ticker.Stop()

	w.reconcile()
	for {
		select {
		case <-w.stopAll:
			w.stopTasksLocked()
			return
		case <-ticker.C:
			if !w.started.Load() {
				return
			}
			w.reconcile()
		}
	}
}

func (w *EmailWorker) reconcile() {
	w.mu.Lock()
	defer w.mu.Unlock()

	identities := w.ctx.Identities.All()

	if len(identities) == 0 {
		if w.sendStop != nil {
			w.log.Warn("no identities, stopping mail tasks")
		}
		w.stopSendLocked()
		for name, stop := range w.checkTasks {
			close(stop)
			delete(w.checkTasks, name)
		}
		return
	}

	if w.sendStop == nil {
		w.sendStop = make(chan struct{})
		w.spawn(w.ctx.Config.Intervals.Send, w.sendStop, w.CheckOutbox)

		w.delivStop = make(chan struct{})
		w.spawn(w.ctx.Config.Intervals.Delivery, w.delivStop, w.CheckDelivery)
	}

	// At most one check task per public name.
	alive := map[string]bool{}
	for _, id := range identities {
		alive[id.PublicName] = true
		if _, ok := w.checkTasks[id.PublicName]; ok {
			continue
		}
		stop := make(chan struct{})
		w.checkTasks[id.PublicName] = stop
		id := id
		w.spawn(w.ctx.Config.Intervals.Check, stop, func() { w.CheckIdentity(id) })
		w.log.Infof("check task started for %s", id.PublicName)
	}
	for name, stop := range w.checkTasks {
		if !alive[name] {
			close(stop)
			delete(w.checkTasks, name)
			w.log.Infof("check task stopped for %s", name)
		}
	}
}

func (w *EmailWorker) stopSendLocked() {
	if w.sendStop != nil {
		close(w.sendStop)
		w.sendStop = nil
	}
	if w.delivStop != nil {
		close(w.delivStop)
		w.delivStop = nil
	}
}

func (w *EmailWorker) stopTasksLocked() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopSendLocked()
	for name, stop := range w.checkTasks {
		close(stop)
		delete(w.checkTasks, name)
	}
}

// spawn runs f immediately and then on every tick until its stop
// channel or the worker closes.
func (w *EmailWorker) spawn(interval time.Duration, stop chan struct{}, f func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		f()
		for {
			select {
			case <-stop:
				return
			case <-w.stopAll:
				return
			case <-ticker.C:
				if !w.started.Load() {
					return
				}
				f()
			}
		}
	}()
}

// CheckInbox runs one inbound round for every identity. The POP3
// server calls it before snapshotting the inbox.
func (w *EmailWorker) CheckInbox() {
	for _, id := range w.ctx.Identities.All() {
		w.CheckIdentity(id)
	}
}

// splitAddress takes a header like "alice <b64.xxxx>" apart into the
// display name and the address; a bare value is returned as both.
func splitAddress(field string) (name, addr string) {
	field = strings.TrimSpace(field)
	if i := strings.IndexByte(field, '<'); i >= 0 {
		if j := strings.IndexByte(field[i:], '>'); j > 0 {
			return strings.TrimSpace(field[:i]), field[i+1 : i+j]
		}
	}
	return field, field
}
