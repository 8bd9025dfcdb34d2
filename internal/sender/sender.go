// Package sender implements the email:send job algorithm: load, gate,
// render, send, record. The EmailLog row is the idempotency key; every
// step checks it before doing anything with side effects.
package sender

import (
	"context"
	"time"

	"github.com/orellanin/campaignrunner/internal/config"
	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/jobqueue"
	"github.com/orellanin/campaignrunner/internal/logging"
	"github.com/orellanin/campaignrunner/internal/model"
	"github.com/orellanin/campaignrunner/internal/render"
	"github.com/orellanin/campaignrunner/internal/scheduler"
	"github.com/orellanin/campaignrunner/internal/smtppool"
	"github.com/orellanin/campaignrunner/internal/store"
)

const (
	connectTimeout = 60 * time.Second
	greetTimeout   = 30 * time.Second
	socketTimeout  = 75 * time.Second
	retryBaseDelay = 2 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// Sender holds everything an email:send job needs.
type Sender struct {
	Store  *store.Store
	Pool   *smtppool.Pool
	Queue  *jobqueue.Client
	Config *config.Config
	Log    logging.Logger
	Hours  scheduler.OfficeHours
	Clock  func() time.Time
}

func (s *Sender) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

// Run executes the full sender algorithm for one email:send job.
func (s *Sender) Run(ctx context.Context, emailLogID, campaignID int64, attempt int) error {
	lc, err := s.Store.LoadEmailLogContext(ctx, emailLogID)
	if engine.KindOf(err) == engine.KindStaleJob {
		s.Log.Debugf("sender: email log %d gone, stale job, terminating", emailLogID)
		return nil
	}
	if err != nil {
		return err
	}

	if lc.Log.Status == model.EmailLogSent || lc.Log.Status == model.EmailLogFailed {
		return nil
	}
	if lc.Campaign.Status != model.CampaignRunning {
		return nil
	}

	if !s.Hours.Contains(s.now()) {
		next := s.Hours.NextOpen(s.now())
		return s.Queue.EnqueueEmailSend(emailLogID, campaignID, attempt, next)
	}

	granted, _, err := s.Store.TryConsumeDailyQuota(ctx, lc.Account.ID, s.now())
	if err != nil {
		return err
	}
	if !granted {
		_, err := s.Store.MarkEmailLogFailedNoRetry(ctx, emailLogID, "Daily sending limit exceeded")
		return err
	}

	// Refundable until the moment we actually hand the message to a
	// transport; past that point the quota was legitimately spent
	// whether or not the send itself succeeds.
	quotaRefundable := true
	defer func() {
		if quotaRefundable {
			_ = s.Store.RefundDailyQuota(ctx, lc.Account.ID, s.now())
		}
	}()

	subject, body, err := s.renderMessage(ctx, lc)
	if err != nil {
		return err
	}
	if err := s.Store.SnapshotSubject(ctx, emailLogID, subject); err != nil {
		return err
	}

	lease, err := s.Pool.Acquire(ctx, lc.Account.ID, s.dialerFor(lc.Account))
	if err != nil {
		return s.handleSendFailure(ctx, lc, attempt, err.Error())
	}
	defer s.Pool.Release(lease)

	quotaRefundable = false

	sendCtx, cancel := context.WithTimeout(ctx, socketTimeout)
	defer cancel()

	msg := smtppool.Message{
		From:     lc.Account.FromEmail,
		To:       lc.Recipient.Email,
		Subject:  subject,
		HTMLBody: body,
	}
	messageID, sendErr := lease.Transport.Send(sendCtx, msg)
	if sendErr != nil {
		return s.handleSendFailure(ctx, lc, attempt, sendErr.Error())
	}

	campaign, err := s.Store.RecordAttemptOutcome(ctx, emailLogID, store.AttemptOutcome{Success: true, MessageID: messageID})
	if err != nil {
		return err
	}
	if err := s.Store.TouchLastUsed(ctx, lc.Account.ID); err != nil {
		return err
	}
	if campaign.AttemptsMade() >= campaign.TotalRecipients {
		updated, err := s.Store.TransitionCampaign(ctx, campaign.ID, []model.CampaignStatus{model.CampaignRunning}, model.CampaignCompleted, func(c *model.Campaign) {
			now := s.now()
			c.CompletedAt = &now
		})
		if err == nil {
			campaign = updated
		} else if engine.KindOf(err) != engine.KindPrecondition {
			return err
		}
	}

	return s.checkAutoPause(ctx, campaign)
}

// renderMessage loads the campaign's template and substitutes the
// recipient's tokens, step 5 of the send algorithm.
func (s *Sender) renderMessage(ctx context.Context, lc *store.EmailLogContext) (subject, body string, err error) {
	tmpl, err := s.Store.GetTemplateByIDUnscoped(ctx, lc.Campaign.TemplateID)
	if err != nil {
		return "", "", err
	}

	recipient := render.Recipient{
		Email:     lc.Recipient.Email,
		FirstName: derefStr(lc.Recipient.FirstName),
		LastName:  derefStr(lc.Recipient.LastName),
		Vars:      lc.Recipient.Vars,
	}
	result := render.Render(tmpl.Subject, tmpl.BodyHTML, recipient, render.Options{UnsubscribeHost: s.Config.UnsubscribeHost})
	return result.Subject, result.Body, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// dialerFor builds the smtppool.Dialer for an account, branching on
// provider to decide which transport to open.
func (s *Sender) dialerFor(account *model.SmtpAccount) smtppool.Dialer {
	return func(ctx context.Context) (smtppool.Transport, error) {
		password, err := s.Store.DecryptPassword(account)
		if err != nil {
			return nil, err
		}
		if account.Provider == model.ProviderSES {
			return smtppool.DialSES(ctx, smtppool.SESDialOptions{
				Region:          account.AWSRegion,
				AccessKeyID:     account.Username,
				SecretAccessKey: password,
			})
		}
		return smtppool.DialSMTP(ctx, smtppool.SMTPDialOptions{
			Host:            account.Host,
			Port:            account.Port,
			Username:        account.Username,
			Password:        password,
			Secure:          account.Secure,
			ConnectTimeout:  connectTimeout,
			GreetingTimeout: greetTimeout,
			SocketTimeout:   socketTimeout,
		})
	}
}

// handleSendFailure classifies a failure and either re-enqueues the job
// with backoff or records a terminal outcome, step 9 of the send
// algorithm. It never touches daily quota; the caller's defer owns that.
func (s *Sender) handleSendFailure(ctx context.Context, lc *store.EmailLogContext, attempt int, errMsg string) error {
	hard := engine.ClassifyTransportError(errMsg) == engine.KindTransportHard

	maxRetries := lc.Campaign.Settings.MaxRetriesPerEmail
	if !hard && attempt < maxRetries {
		next := s.now().Add(backoffDelay(attempt - 1))
		return s.Queue.EnqueueEmailSend(lc.Log.ID, lc.Campaign.ID, attempt+1, next)
	}

	outcome := store.AttemptOutcome{
		Success:      false,
		ErrorMessage: errMsg,
		Bounce:       hard,
	}
	if hard {
		outcome.BounceReason = errMsg
	}
	campaign, err := s.Store.RecordAttemptOutcome(ctx, lc.Log.ID, outcome)
	if err != nil {
		return err
	}
	return s.checkAutoPause(ctx, campaign)
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// checkAutoPause re-evaluates the bounce-rate gate after every recorded
// outcome, pausing the campaign and draining its queued sends once the
// threshold is breached with enough attempts to be meaningful.
func (s *Sender) checkAutoPause(ctx context.Context, campaign *model.Campaign) error {
	if campaign.AttemptsMade() < 10 || campaign.BounceRate <= s.Config.MaxBounceRate {
		return nil
	}

	updated, err := s.Store.TransitionCampaign(ctx, campaign.ID, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, func(c *model.Campaign) {
		now := s.now()
		c.PausedAt = &now
	})
	if err != nil {
		if engine.KindOf(err) == engine.KindPrecondition {
			return nil
		}
		return err
	}

	ids, err := s.Store.ListQueuedEmailLogIDs(ctx, updated.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.Queue.CancelEmailSend(id); err != nil {
			s.Log.Errorf(err, "sender: cancel queued email %d after auto-pause", id)
		}
	}
	return nil
}
