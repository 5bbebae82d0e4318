package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReplyWorker polls every sender mailbox with IMAP configured and stamps
// last_replied_at on leads whose address appears as the author of an
// unseen message. The stop evaluator picks the signal up on the next
// sweep; this worker never mutates sequencing state directly.
type ReplyWorker struct {
	DB       *gorm.DB
	Interval time.Duration
	Logger   *logrus.Entry
}

func NewReplyWorker(db *gorm.DB, interval time.Duration, logger *logrus.Entry) *ReplyWorker {
	return &ReplyWorker{DB: db, Interval: interval, Logger: logger}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.Logger.Info("reply worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Info("reply worker shutting down")
			return
		case <-ticker.C:
			rw.pollAllSenders()
		}
	}
}

func (rw *ReplyWorker) pollAllSenders() {
	var senders []models.Sender
	if err := rw.DB.Where("is_active = ? AND imap_host <> ''", true).
		Find(&senders).Error; err != nil {
		rw.Logger.WithError(err).Error("failed to fetch senders for reply poll")
		return
	}

	for _, sender := range senders {
		log := rw.Logger.WithFields(logrus.Fields{"sender_id": sender.ID, "tenant_id": sender.TenantID})
		replies, err := rw.pollSender(&sender)

		updates := map[string]interface{}{
			"last_checked_at": time.Now(),
			"last_error":      "",
		}
		if err != nil {
			log.WithError(err).Warn("reply poll failed")
			updates["last_error"] = err.Error()
		} else if replies > 0 {
			log.WithField("replies", replies).Info("reply signals recorded")
		}
		if uerr := rw.DB.Model(&models.Sender{}).Where("id = ?", sender.ID).
			Updates(updates).Error; uerr != nil {
			log.WithError(uerr).Error("failed to update sender poll status")
		}
	}
}

// pollSender connects to one mailbox and records a reply signal for each
// unseen message whose author matches a lead of the sender's tenant.
// Messages stay unseen on failure so the next poll retries them.
func (rw *ReplyWorker) pollSender(sender *models.Sender) (int, error) {
	password, err := utils.Decrypt(sender.IMAPPassword)
	if err != nil {
		return 0, fmt.Errorf("decrypting IMAP password: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)
	var imapClient *client.Client

	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(addr, &tls.Config{ServerName: sender.IMAPHost})
	case "STARTTLS":
		imapClient, err = client.Dial(addr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{ServerName: sender.IMAPHost})
		}
	default:
		imapClient, err = client.Dial(addr)
	}
	if err != nil {
		return 0, fmt.Errorf("connecting to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return 0, fmt.Errorf("IMAP login: %w", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return 0, fmt.Errorf("selecting mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("searching messages: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	section := imap.BodySectionName{Peek: true}
	go func() {
		done <- imapClient.Fetch(seqset,
			[]imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	replies := 0
	for msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		if isAutoGenerated(msg, &section) {
			continue
		}
		for _, from := range msg.Envelope.From {
			address := strings.ToLower(from.MailboxName + "@" + from.HostName)
			if rw.recordReply(sender.TenantID, address, msg.Envelope.Date) {
				replies++
			}
		}
	}
	if err := <-done; err != nil {
		return replies, fmt.Errorf("fetching messages: %w", err)
	}

	// Mark the batch seen only after every envelope was examined
	flags := []interface{}{imap.SeenFlag}
	if err := imapClient.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return replies, fmt.Errorf("marking messages seen: %w", err)
	}

	return replies, nil
}

// isAutoGenerated filters out-of-office and delivery-status mail so a
// vacation responder does not count as a reply signal
func isAutoGenerated(msg *imap.Message, section *imap.BodySectionName) bool {
	literal := msg.GetBody(section)
	if literal == nil {
		return false
	}
	mr, err := mail.CreateReader(literal)
	if err != nil {
		return false
	}
	header := mr.Header
	if v := header.Get("Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	if strings.EqualFold(header.Get("Precedence"), "bulk") {
		return true
	}
	if header.Get("X-Autoreply") != "" || header.Get("X-Autorespond") != "" {
		return true
	}
	return false
}

// recordReply stamps last_replied_at on the matching lead. The stamp
// only moves forward: an older message never overwrites a newer signal.
func (rw *ReplyWorker) recordReply(tenantID uint, address string, date time.Time) bool {
	if date.IsZero() {
		date = time.Now()
	}
	res := rw.DB.Model(&models.Lead{}).
		Where("tenant_id = ? AND LOWER(email) = ? AND (last_replied_at IS NULL OR last_replied_at < ?)",
			tenantID, address, date).
		Update("last_replied_at", date)
	if res.Error != nil {
		rw.Logger.WithError(res.Error).WithField("email", address).Error("failed to record reply")
		return false
	}
	return res.RowsAffected > 0
}
