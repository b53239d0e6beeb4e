package worker

import (
	"strings"

	"github.com/nesbox/pboted/lib/email"
	"github.com/nesbox/pboted/lib/fs"
)

// CheckDelivery runs one delivery confirmation round: every sent mail
// not yet marked delivered is checked against the network's deletion
// records. A recipient deletes the encrypted packet after picking it
// up, so a matching deletion entry is the delivery receipt.
func (w *EmailWorker) CheckDelivery() {
	files, err := fs.ListFiles(w.ctx.Dirs.Sent())
	if err != nil {
		w.log.WithError(err).Error("cannot scan sent directory")
		return
	}

	for _, path := range files {
		if !strings.HasSuffix(path, email.MailExt) {
			continue
		}
		if !w.started.Load() {
			return
		}
		w.confirmOne(path)
	}
}

func (w *EmailWorker) confirmOne(path string) {
	e, err := email.Load(path)
	if err != nil {
		w.log.WithError(err).Warnf("cannot read %s", path)
		return
	}
	if e.Header(email.HeaderDeleted) == "true" {
		return
	}
	log := w.log.WithField("mail", path)

	key, ok := tagFromHeader(e, email.HeaderDHTKey)
	if !ok {
		log.Warn("sent mail without a dht key header")
		return
	}
	da, ok := tagFromHeader(e, email.HeaderDeleteAuth)
	if !ok {
		log.Warn("sent mail without a delete auth header")
		return
	}

	for _, info := range w.dht.DeletionQuery(key) {
		if info.Contains(key, da) {
			e.SetHeader(email.HeaderDeleted, "true")
			if err := e.Save(""); err != nil {
				log.WithError(err).Warn("cannot mark mail delivered")
				return
			}
			log.Info("delivery confirmed")
			return
		}
	}
}
