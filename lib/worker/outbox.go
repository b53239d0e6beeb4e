package worker

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/compress"
	"github.com/nesbox/pboted/lib/email"
	"github.com/nesbox/pboted/lib/fs"
	"github.com/nesbox/pboted/lib/packet"
	"github.com/nesbox/pboted/lib/util"
)

// CheckOutbox runs one send round: every mail file in the outbox is
// resolved, composed, encrypted and offered to the DHT. Failures latch
// the file's skip flag for this round only; the file stays in place
// and the next round retries from the persisted state.
func (w *EmailWorker) CheckOutbox() {
	files, err := fs.ListFiles(w.ctx.Dirs.Outbox())
	if err != nil {
		w.log.WithError(err).Error("cannot scan outbox")
		return
	}

	for _, path := range files {
		if !strings.HasSuffix(path, email.MailExt) {
			continue
		}
		if !w.started.Load() {
			return
		}
		w.sendOne(path)
	}
}

func (w *EmailWorker) sendOne(path string) {
	e, err := email.Load(path)
	if err != nil {
		w.log.WithError(err).Warnf("cannot read %s", path)
		return
	}
	log := w.log.WithField("mail", path)

	// A previous round may have published the encrypted packet already
	// and failed on the index; only the index store is repeated then.
	if key := e.Header(email.HeaderDHTKey); key != "" {
		w.finishSend(e, log)
		return
	}

	sender := w.resolveSender(e.Header("From"))
	if sender == nil {
		log.Warn("no local identity matches the From header, skipping")
		e.SetSkip(true)
		return
	}
	e.SetSender(sender)

	_, toAddr := splitAddress(e.Header("To"))
	recipient, err := w.resolveRecipient(toAddr)
	if err != nil {
		log.WithError(err).Warn("cannot resolve the To header, skipping")
		e.SetSkip(true)
		return
	}
	e.SetRecipient(recipient)

	// Rewrite both endpoints to full addresses before the mail leaves
	// the node.
	e.SetHeader("From", sender.PublicName+" <"+sender.ToBase64v1()+">")
	toName, _ := splitAddress(e.Header("To"))
	if toName != "" && toName != toAddr {
		e.SetHeader("To", toName+" <"+recipient.ToBase64v1()+">")
	} else {
		e.SetHeader("To", "<"+recipient.ToBase64v1()+">")
	}

	if err := e.Compose(); err != nil {
		log.WithError(err).Warn("compose failed, skipping")
		e.SetSkip(true)
		return
	}
	// Persist the assigned Message-ID before anything can fail.
	if err := e.Save(""); err != nil {
		log.WithError(err).Warn("cannot persist composed mail, skipping")
		e.SetSkip(true)
		return
	}

	// Legacy suites may refuse zlib; compress only for modern keys.
	alg := compress.Uncompressed
	if recipient.Type == bote.KeyX25519Ed25519 {
		alg = compress.ZLIB
	}
	if err := e.Compress(alg); err != nil {
		log.WithError(err).Warn("compress failed, skipping")
		e.SetSkip(true)
		return
	}

	if err := e.Encrypt(); err != nil {
		log.WithError(err).Warn("encrypt failed, skipping")
		return
	}

	store := &packet.StoreRequest{
		Hashcash: []byte(bote.DefaultHashcash),
		Data:     e.Encrypted.ToBytes(),
	}
	if peers := w.dht.Store(e.Encrypted.Key, packet.TypeEncrypted, store); len(peers) == 0 {
		log.WithError(util.ErrStoreNoPeers).Warn("encrypted packet not stored, retrying next round")
		e.SetSkip(true)
		return
	}
	log.Debugf("encrypted packet stored as %s", e.Encrypted.Key.Base64())

	// The packet is out; record the artifacts so the next round can
	// resume at the index step instead of re-publishing.
	if err := e.Save(""); err != nil {
		log.WithError(err).Warn("cannot persist encryption artifacts")
		e.SetSkip(true)
		return
	}

	w.finishSend(e, log)
}

// finishSend publishes the index entry and moves the mail to sent/.
// Everything it needs is in the persisted headers, so it also serves
// as the resume path.
func (w *EmailWorker) finishSend(e *email.Email, log *logrus.Entry) {
	key, ok := tagFromHeader(e, email.HeaderDHTKey)
	if !ok {
		log.Warn("corrupt dht key header, skipping")
		e.SetSkip(true)
		return
	}
	da, ok := tagFromHeader(e, email.HeaderDeleteAuth)
	if !ok {
		log.Warn("corrupt delete auth header, skipping")
		e.SetSkip(true)
		return
	}

	_, toAddr := splitAddress(e.Header("To"))
	recipient, err := w.resolveRecipient(toAddr)
	if err != nil {
		log.WithError(err).Warn("cannot resolve recipient for the index entry, skipping")
		e.SetSkip(true)
		return
	}

	identHash := packet.Tag(recipient.Hash())
	index := &packet.Index{
		Hash: identHash,
		Entries: []packet.IndexEntry{{
			Key:  key,
			DV:   da,
			Time: bote.TsNow(),
		}},
	}
	store := &packet.StoreRequest{
		Hashcash: []byte(bote.DefaultHashcash),
		Data:     index.ToBytes(),
	}
	if peers := w.dht.Store(identHash, packet.TypeIndex, store); len(peers) == 0 {
		log.WithError(util.ErrStoreNoPeers).Warn("index entry not stored, retrying next round")
		e.SetSkip(true)
		return
	}

	e.SetHeader(email.HeaderDeleted, "false")
	if err := e.Save(""); err != nil {
		log.WithError(err).Warn("cannot re-save sent mail")
		e.SetSkip(true)
		return
	}
	if err := e.Move(w.ctx.Dirs.Sent()); err != nil {
		log.WithError(err).Warn("cannot move mail to sent")
		e.SetSkip(true)
		return
	}
	log.Infof("mail sent, index under %s", identHash.Base64())
}

// resolveSender finds the local identity behind a From header, by
// public name first, then by any of its address forms.
func (w *EmailWorker) resolveSender(from string) *bote.PrivateIdentity {
	name, addr := splitAddress(from)
	if id := w.ctx.Identities.ByName(addr); id != nil {
		return id
	}
	if id := w.ctx.Identities.ByName(name); id != nil {
		return id
	}
	for _, id := range w.ctx.Identities.All() {
		switch addr {
		case id.ToBase64(), id.ToBase64v1(), id.ToBase32v1():
			return id
		}
	}
	return nil
}

// resolveRecipient turns a To address into a public identity: address
// book by name, then by alias, then the raw address itself.
func (w *EmailWorker) resolveRecipient(addr string) (*bote.PublicIdentity, error) {
	if resolved, ok := w.ctx.AddressBook.NameAddress(addr); ok {
		addr = resolved
	} else if resolved, ok := w.ctx.AddressBook.AliasAddress(addr); ok {
		addr = resolved
	}
	return bote.ParseAddress(addr)
}

func tagFromHeader(e *email.Email, name string) (packet.Tag, bool) {
	var t packet.Tag
	raw, err := bote.Base64Decode(e.Header(name))
	if err != nil || len(raw) != len(t) {
		return t, false
	}
	copy(t[:], raw)
	return t, true
}
