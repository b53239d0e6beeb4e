package worker

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/email"
	"github.com/nesbox/pboted/lib/fs"
	"github.com/nesbox/pboted/lib/packet"
	"github.com/nesbox/pboted/lib/util"
)

// CheckIdentity runs one inbound round for a single identity: fetch
// its index packets, fetch every referenced encrypted packet, decrypt,
// verify, land the mail in the inbox and ask the network to forget the
// delivered copies.
func (w *EmailWorker) CheckIdentity(id *bote.PrivateIdentity) {
	log := w.log.WithField("identity", id.PublicName)
	identHash := packet.Tag(id.Hash())

	indexes := w.collectIndexes(identHash, log)
	if len(indexes) == 0 {
		return
	}

	packets := w.collectEncrypted(indexes, log)
	for _, enc := range packets {
		if !w.started.Load() {
			return
		}
		w.processEncrypted(id, identHash, enc, log)
	}
}

// collectIndexes gathers index packets from the network and the local
// cache, dropping everything that does not parse, and deduplicates by
// the owner hash keeping the last parse.
func (w *EmailWorker) collectIndexes(identHash packet.Tag, log *logrus.Entry) []*packet.Index {
	var raw [][]byte
	for _, comm := range w.dht.FindAll(identHash, packet.TypeIndex) {
		resp, err := packet.ParseResponse(comm, true)
		if err != nil || resp.Status != packet.StatusOK || len(resp.Data) == 0 {
			continue
		}
		raw = append(raw, resp.Data)
	}
	if cached := w.dht.GetIndex(identHash); cached != nil {
		raw = append(raw, cached)
	}

	byHash := map[packet.Tag]*packet.Index{}
	var order []packet.Tag
	for _, data := range raw {
		idx, err := packet.ParseIndex(data, true)
		if err != nil {
			log.WithError(err).Debug("dropping malformed index packet")
			continue
		}
		if _, seen := byHash[idx.Hash]; !seen {
			order = append(order, idx.Hash)
		}
		byHash[idx.Hash] = idx
	}

	out := make([]*packet.Index, 0, len(byHash))
	for _, h := range order {
		out = append(out, byHash[h])
	}
	return out
}

// collectEncrypted resolves every index entry to an encrypted packet,
// deduplicated by DHT key.
func (w *EmailWorker) collectEncrypted(indexes []*packet.Index, log *logrus.Entry) []*packet.Encrypted {
	byKey := map[packet.Tag]*packet.Encrypted{}
	var order []packet.Tag

	add := func(data []byte) {
		enc, err := packet.ParseEncrypted(data, true)
		if err != nil {
			log.WithError(err).Debug("dropping malformed encrypted packet")
			return
		}
		if _, seen := byKey[enc.Key]; !seen {
			order = append(order, enc.Key)
			byKey[enc.Key] = enc
		}
	}

	for _, idx := range indexes {
		for _, entry := range idx.Entries {
			for _, comm := range w.dht.FindAll(entry.Key, packet.TypeEncrypted) {
				resp, err := packet.ParseResponse(comm, true)
				if err != nil || resp.Status != packet.StatusOK || len(resp.Data) == 0 {
					continue
				}
				add(resp.Data)
			}
			if cached := w.dht.GetEmail(entry.Key); cached != nil {
				add(cached)
			}
		}
	}

	out := make([]*packet.Encrypted, 0, len(byKey))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// processEncrypted turns one encrypted packet into an inbox file and
// asks the network to drop the delivered copy.
func (w *EmailWorker) processEncrypted(id *bote.PrivateIdentity, identHash packet.Tag, enc *packet.Encrypted, log *logrus.Entry) {
	inboxPath := filepath.Join(w.ctx.Dirs.Inbox(), enc.Key.Base64()+email.MailExt)
	if fs.Exists(inboxPath) {
		// Already delivered in an earlier round.
		return
	}

	plain, err := id.Decrypt(enc.EData)
	if err != nil || len(plain) == 0 {
		log.WithError(err).Warnf("cannot decrypt packet %s", enc.Key.Base64())
		return
	}

	e, err := email.FromBytes(plain, true)
	if err != nil {
		log.WithError(err).Warnf("cannot parse packet %s", enc.Key.Base64())
		return
	}

	if !e.Verify(enc.DeleteHash) {
		log.WithError(util.ErrVerifyMismatch).
			Warnf("dropping copy of packet %s", enc.Key.Base64())
		return
	}

	if e.Incomplete() {
		// Multipart reassembly is not supported; stage the fragment so
		// nothing is silently lost and move on.
		w.stageFragment(e, enc, log)
		return
	}

	e.SetHeader(email.HeaderDHTKey, enc.Key.Base64())
	e.Path = inboxPath
	if err := e.Save(""); err != nil {
		log.WithError(err).Warnf("cannot write inbox file for %s", enc.Key.Base64())
		return
	}
	log.Infof("mail received as %s", enc.Key.Base64())

	// Delivered; best effort cleanup of the network copies.
	da := e.Packet.DA
	if peers := w.dht.DeleteEmail(enc.Key, &packet.DeleteRequest{Key: enc.Key, DA: da}); len(peers) == 0 {
		log.Debugf("no peer deleted packet %s", enc.Key.Base64())
	}
	if peers := w.dht.DeleteIndexEntry(identHash, enc.Key, da); len(peers) == 0 {
		log.Debugf("no peer deleted the index entry for %s", enc.Key.Base64())
	}
}

// stageFragment parks a multipart fragment under incomplete/ keyed by
// message id and fragment position.
func (w *EmailWorker) stageFragment(e *email.Email, enc *packet.Encrypted, log *logrus.Entry) {
	name := string(e.Packet.MesID[:]) + "." + strconv.Itoa(int(e.Packet.FrID)) + "of" + strconv.Itoa(int(e.Packet.FrCount))
	path := filepath.Join(w.ctx.Dirs.Incomplete(), name)
	if err := os.WriteFile(path, enc.ToBytes(), 0o600); err != nil {
		log.WithError(err).Warn("cannot stage fragment")
		return
	}
	log.Warnf("multipart mail is not supported, staged fragment %s", name)
}
