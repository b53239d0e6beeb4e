package dht

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/packet"
)

// Request payload layouts, all big-endian:
//
//	fetch:          kind(1) key(32)
//	store:          kind(1) key(32) storeRequest
//	deletion query: key(32)
//
// A delete travels as a store of kind 'D' whose store request data is
// a DeleteRequest.

// Worker implements Client over the context's packet queues. Requests
// fan out to every known peer; responses are matched back by the
// correlation ID and collected until the batch timeout.
type Worker struct {
	ctx     *bote.Context
	cache   *LocalCache
	peers   []string
	timeout time.Duration

	mu      sync.Mutex
	pending map[packet.Tag]chan *packet.Communication

	started atomic.Bool
	done    chan struct{}

	log *logrus.Entry
}

// NewWorker builds the DHT worker. peers is the list of base64 peer
// destinations; timeout bounds each scatter-gather batch.
func NewWorker(ctx *bote.Context, cache *LocalCache, peers []string, timeout time.Duration) *Worker {
	return &Worker{
		ctx:     ctx,
		cache:   cache,
		peers:   peers,
		timeout: timeout,
		pending: map[packet.Tag]chan *packet.Communication{},
		done:    make(chan struct{}),
		log:     logrus.WithField("component", "dht"),
	}
}

// Start launches the receive loop.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.recvLoop()
	w.log.Infof("started, %d peers", len(w.peers))
}

// Stop signals the receive loop and wakes the queue it blocks on.
func (w *Worker) Stop() {
	if !w.started.CompareAndSwap(true, false) {
		return
	}
	w.ctx.RecvQueue.WakeUp()
	<-w.done
	w.log.Info("stopped")
}

func (w *Worker) recvLoop() {
	defer close(w.done)
	for w.started.Load() {
		p, ok := w.ctx.RecvQueue.GetNextWithTimeout(time.Second)
		if !ok {
			continue
		}

		switch p.Type {
		case packet.CommResponse:
			w.dispatchResponse(p)
		case packet.CommStore:
			w.handleStore(p)
		case packet.CommFetch:
			w.handleFetch(p)
		case packet.CommDeletionQuery:
			w.handleDeletionQuery(p)
		default:
			w.log.Warnf("dropping communication of unknown type %q", p.Type)
		}
	}
}

func (w *Worker) dispatchResponse(p *packet.Communication) {
	w.mu.Lock()
	ch := w.pending[p.CID]
	w.mu.Unlock()
	if ch == nil {
		w.log.Debugf("response with unknown cid %s", p.CID.Base64())
		return
	}
	select {
	case ch <- p:
	default:
		// Batch channel full; the batch already has every answer it
		// can use.
	}
}

// batch sends one request per peer and collects responses until every
// peer answered or the timeout ran out.
func (w *Worker) batch(typ byte, payload []byte) []*packet.Communication {
	if len(w.peers) == 0 {
		return nil
	}

	ch := make(chan *packet.Communication, len(w.peers))
	cids := make([]packet.Tag, 0, len(w.peers))

	w.mu.Lock()
	for range w.peers {
		cid := bote.RandomCID()
		w.pending[cid] = ch
		cids = append(cids, cid)
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		for _, cid := range cids {
			delete(w.pending, cid)
		}
		w.mu.Unlock()
	}()

	for i, peer := range w.peers {
		w.ctx.Send(&packet.Communication{
			Type:    typ,
			Ver:     packet.CommPacketVersion,
			CID:     cids[i],
			Payload: payload,
			From:    peer,
		})
	}

	var out []*packet.Communication
	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()
	for len(out) < len(w.peers) {
		select {
		case p := <-ch:
			out = append(out, p)
		case <-deadline.C:
			return out
		}
	}
	return out
}

func fetchPayload(kind byte, key packet.Tag) []byte {
	out := make([]byte, 0, 33)
	out = append(out, kind)
	return append(out, key[:]...)
}

// FindAll implements Client.
func (w *Worker) FindAll(key packet.Tag, kind byte) []*packet.Communication {
	responses := w.batch(packet.CommFetch, fetchPayload(kind, key))
	w.log.Debugf("find %s kind %q: %d responses", key.Base64(), kind, len(responses))
	return responses
}

// Store implements Client.
func (w *Worker) Store(key packet.Tag, kind byte, req *packet.StoreRequest) []string {
	payload := append(fetchPayload(kind, key), req.ToBytes()...)
	return w.okPeers(w.batch(packet.CommStore, payload))
}

// DeleteEmail implements Client.
func (w *Worker) DeleteEmail(key packet.Tag, req *packet.DeleteRequest) []string {
	sr := &packet.StoreRequest{Data: req.ToBytes()}
	payload := append(fetchPayload(packet.TypeDelete, key), sr.ToBytes()...)
	return w.okPeers(w.batch(packet.CommStore, payload))
}

// DeleteIndexEntry implements Client.
func (w *Worker) DeleteIndexEntry(identHash, key, da packet.Tag) []string {
	sr := &packet.StoreRequest{Data: (&packet.DeleteRequest{Key: key, DA: da}).ToBytes()}
	payload := append(fetchPayload(packet.TypeDelete, identHash), sr.ToBytes()...)
	return w.okPeers(w.batch(packet.CommStore, payload))
}

// DeletionQuery implements Client.
func (w *Worker) DeletionQuery(key packet.Tag) []*packet.DeletionInfo {
	var out []*packet.DeletionInfo
	for _, comm := range w.batch(packet.CommDeletionQuery, key[:]) {
		resp, err := packet.ParseResponse(comm, true)
		if err != nil || resp.Status != packet.StatusOK {
			continue
		}
		info, err := packet.ParseDeletionInfo(resp.Data, true)
		if err != nil {
			w.log.WithError(err).Debug("dropping malformed deletion info")
			continue
		}
		out = append(out, info)
	}
	return out
}

// GetEmail implements Client.
func (w *Worker) GetEmail(key packet.Tag) []byte {
	return w.cache.GetEmail(key)
}

// GetIndex implements Client.
func (w *Worker) GetIndex(identHash packet.Tag) []byte {
	return w.cache.GetIndex(identHash)
}

// Safe implements Client.
func (w *Worker) Safe(data []byte) bool {
	return w.cache.Safe(data)
}

// okPeers extracts the peers whose response parsed with StatusOK.
func (w *Worker) okPeers(responses []*packet.Communication) []string {
	var out []string
	for _, comm := range responses {
		resp, err := packet.ParseResponse(comm, true)
		if err != nil {
			w.log.WithError(err).Debug("dropping malformed response")
			continue
		}
		if resp.Status == packet.StatusOK {
			out = append(out, comm.From)
		}
	}
	return out
}

// respond sends a response packet back to the requesting peer with the
// request's correlation ID.
func (w *Worker) respond(req *packet.Communication, status packet.StatusCode, data []byte) {
	resp := &packet.Response{Status: status, Data: data}
	w.ctx.Send(&packet.Communication{
		Type:    packet.CommResponse,
		Ver:     packet.CommPacketVersion,
		CID:     req.CID,
		Payload: resp.ToBytes(),
		From:    req.From,
	})
}

// handleStore serves an inbound store request against the local cache.
func (w *Worker) handleStore(req *packet.Communication) {
	if len(req.Payload) < 33 {
		w.respond(req, packet.StatusInvalidPacket, nil)
		return
	}
	kind := req.Payload[0]
	key := packet.TagFromBytes(req.Payload[1:33])

	sr, err := packet.ParseStoreRequest(req.Payload[33:], true)
	if err != nil {
		w.respond(req, packet.StatusInvalidPacket, nil)
		return
	}

	if kind == packet.TypeDelete {
		del, err := packet.ParseDeleteRequest(sr.Data, true)
		if err != nil {
			w.respond(req, packet.StatusInvalidPacket, nil)
			return
		}
		if w.cache.DeleteEmail(del.Key, del.DA) || w.cache.DeleteIndexEntry(key, del.Key) {
			w.respond(req, packet.StatusOK, nil)
		} else {
			w.respond(req, packet.StatusNoDataFound, nil)
		}
		return
	}

	if w.cache.Safe(sr.Data) {
		w.respond(req, packet.StatusOK, nil)
	} else {
		w.respond(req, packet.StatusInvalidPacket, nil)
	}
}

// handleFetch serves an inbound lookup from the local cache.
func (w *Worker) handleFetch(req *packet.Communication) {
	if len(req.Payload) != 33 {
		w.respond(req, packet.StatusInvalidPacket, nil)
		return
	}
	kind := req.Payload[0]
	key := packet.TagFromBytes(req.Payload[1:33])

	var data []byte
	switch kind {
	case packet.TypeEncrypted:
		data = w.cache.GetEmail(key)
	case packet.TypeIndex:
		data = w.cache.GetIndex(key)
	default:
		w.respond(req, packet.StatusInvalidPacket, nil)
		return
	}
	if data == nil {
		w.respond(req, packet.StatusNoDataFound, nil)
		return
	}
	w.respond(req, packet.StatusOK, data)
}

func (w *Worker) handleDeletionQuery(req *packet.Communication) {
	if len(req.Payload) != 32 {
		w.respond(req, packet.StatusInvalidPacket, nil)
		return
	}
	info := w.cache.Deletions(packet.TagFromBytes(req.Payload))
	if info == nil {
		w.respond(req, packet.StatusNoDataFound, nil)
		return
	}
	w.respond(req, packet.StatusOK, info.ToBytes())
}
