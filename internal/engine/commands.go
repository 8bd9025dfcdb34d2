package engine

import (
	"context"
	"io"
	"time"

	"github.com/orellanin/campaignrunner/internal/config"
	"github.com/orellanin/campaignrunner/internal/ingest"
	"github.com/orellanin/campaignrunner/internal/jobqueue"
	"github.com/orellanin/campaignrunner/internal/model"
	"github.com/orellanin/campaignrunner/internal/scheduler"
	"github.com/orellanin/campaignrunner/internal/smtppool"
	"github.com/orellanin/campaignrunner/internal/store"
)

// Commands is the command/query surface this engine exposes. A caller
// (HTTP handler, CLI, cron) never reaches Store or JobQueue directly; it
// goes through here so every state transition stays centralized.
type Commands struct {
	Store  *store.Store
	Queue  *jobqueue.Client
	Pool   *smtppool.Pool
	Config *config.Config
}

var runningFrom = []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled, model.CampaignPaused}

// RegisterUser creates a new account. Full session/auth management is
// external to this engine.
func (c *Commands) RegisterUser(ctx context.Context, cmd store.RegisterUserCommand) (*model.User, error) {
	return c.Store.RegisterUser(ctx, cmd)
}

// CreateSmtpAccount verifies the credential against the live provider
// before persisting it, per the external interface contract.
func (c *Commands) CreateSmtpAccount(ctx context.Context, cmd store.CreateSmtpAccountCommand) (*model.SmtpAccount, error) {
	if err := verifyCredential(ctx, cmd.Provider, cmd.Host, cmd.Port, cmd.Username, cmd.Password, cmd.Secure, cmd.AWSRegion); err != nil {
		return nil, Wrap(KindValidation, err, "smtp credential could not be verified")
	}
	return c.Store.CreateSmtpAccount(ctx, cmd)
}

// TestSmtpAccount re-verifies an already-persisted account's credential
// on demand, without touching the stored row.
func (c *Commands) TestSmtpAccount(ctx context.Context, userID, id int64) error {
	acc, err := c.Store.GetSmtpAccount(ctx, userID, id)
	if err != nil {
		return err
	}
	password, err := c.Store.DecryptPassword(acc)
	if err != nil {
		return Wrap(KindInternal, err, "decrypt smtp credential")
	}
	if err := verifyCredential(ctx, acc.Provider, acc.Host, acc.Port, acc.Username, password, acc.Secure, acc.AWSRegion); err != nil {
		return Wrap(KindValidation, err, "smtp account %d failed verification", id)
	}
	return nil
}

func verifyCredential(ctx context.Context, provider model.ProviderKind, host string, port int, username, password string, secure bool, region string) error {
	vctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if provider == model.ProviderSES {
		t, err := smtppool.DialSES(vctx, smtppool.SESDialOptions{Region: region, AccessKeyID: username, SecretAccessKey: password})
		if err != nil {
			return err
		}
		return t.Close()
	}
	t, err := smtppool.DialSMTP(vctx, smtppool.SMTPDialOptions{
		Host: host, Port: port, Username: username, Password: password, Secure: secure,
		ConnectTimeout: 10 * time.Second, GreetingTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	return t.Close()
}

// ToggleSmtpAccount flips an account's active flag.
func (c *Commands) ToggleSmtpAccount(ctx context.Context, userID, id int64, active bool) error {
	return c.Store.ToggleSmtpAccount(ctx, userID, id, active)
}

// CreateTemplate stores a reusable subject+body pair.
func (c *Commands) CreateTemplate(ctx context.Context, cmd store.CreateTemplateCommand) (*model.Template, error) {
	return c.Store.CreateTemplate(ctx, cmd)
}

// CreateCampaign builds the campaign and its recipient set, then kicks off
// dispatch immediately if the store placed it straight into RUNNING.
func (c *Commands) CreateCampaign(ctx context.Context, cmd store.CreateCampaignCommand) (*model.Campaign, error) {
	campaign, err := c.Store.CreateCampaign(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if campaign.Status == model.CampaignRunning {
		if err := c.Queue.EnqueueCampaignTick(campaign.ID, time.Time{}); err != nil {
			return nil, Wrap(KindInternal, err, "enqueue initial tick")
		}
	}
	return campaign, nil
}

// CreateCampaignFromCSV parses an uploaded recipient list before handing
// off to CreateCampaign, returning the ingestion summary alongside the
// created campaign so a caller can surface rejected rows.
func (c *Commands) CreateCampaignFromCSV(ctx context.Context, cmd store.CreateCampaignCommand, csv io.Reader) (*model.Campaign, ingest.Summary, error) {
	recipients, summary, err := ingest.ParseCSV(csv)
	if err != nil {
		return nil, ingest.Summary{}, Wrap(KindValidation, err, "parse recipient csv")
	}
	cmd.Recipients = recipients
	campaign, err := c.CreateCampaign(ctx, cmd)
	if err != nil {
		return nil, summary, err
	}
	return campaign, summary, nil
}

// StartCampaign moves a DRAFT/SCHEDULED/PAUSED campaign to RUNNING and
// enqueues its first tick. Idempotent against an already-RUNNING campaign.
func (c *Commands) StartCampaign(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	existing, err := c.Store.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.CampaignRunning {
		return existing, nil
	}
	if existing.TotalRecipients == 0 {
		return nil, Newf(KindPrecondition, "campaign %d has no recipients", id)
	}

	campaign, err := c.Store.TransitionCampaign(ctx, id, runningFrom, model.CampaignRunning, func(cc *model.Campaign) {
		if cc.StartedAt == nil {
			now := time.Now().UTC()
			cc.StartedAt = &now
		}
	})
	if err != nil {
		return nil, err
	}
	if err := c.Queue.EnqueueCampaignTick(campaign.ID, time.Time{}); err != nil {
		return nil, Wrap(KindInternal, err, "enqueue tick")
	}
	return campaign, nil
}

// PauseCampaign halts dispatch and cancels every still-queued email:send
// job. Idempotent against an already-PAUSED campaign.
func (c *Commands) PauseCampaign(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	existing, err := c.Store.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.CampaignPaused {
		return existing, nil
	}

	campaign, err := c.Store.TransitionCampaign(ctx, id, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, func(cc *model.Campaign) {
		now := time.Now().UTC()
		cc.PausedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if err := c.Queue.CancelCampaignTick(campaign.ID); err != nil {
		return nil, err
	}
	if err := c.drainQueuedSends(ctx, campaign.ID); err != nil {
		return nil, err
	}
	return campaign, nil
}

// ResumeCampaign restarts dispatch on a PAUSED campaign, releasing any
// batch that was claimed but never made it to an EmailLog. Idempotent
// against an already-RUNNING campaign.
func (c *Commands) ResumeCampaign(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	existing, err := c.Store.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.CampaignRunning {
		return existing, nil
	}

	campaign, err := c.Store.TransitionCampaign(ctx, id, []model.CampaignStatus{model.CampaignPaused}, model.CampaignRunning, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Store.ReleaseUnclaimedBatch(ctx, campaign.ID); err != nil {
		return nil, err
	}
	if err := c.Queue.EnqueueCampaignTick(campaign.ID, time.Time{}); err != nil {
		return nil, Wrap(KindInternal, err, "enqueue tick")
	}
	return campaign, nil
}

// StopCampaign cancels a campaign permanently. Unlike Pause/Resume there
// is no path back except RestartCampaign.
func (c *Commands) StopCampaign(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	campaign, err := c.Store.TransitionCampaign(ctx, id,
		[]model.CampaignStatus{model.CampaignRunning, model.CampaignPaused, model.CampaignScheduled},
		model.CampaignCancelled, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Queue.CancelCampaignTick(campaign.ID); err != nil {
		return nil, err
	}
	if err := c.drainQueuedSends(ctx, campaign.ID); err != nil {
		return nil, err
	}
	return campaign, nil
}

// RestartCampaign resets a COMPLETED/FAILED/PAUSED campaign to RUNNING
// with a full counter/recipient reset, then enqueues a fresh tick.
func (c *Commands) RestartCampaign(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	if _, err := c.Store.GetCampaign(ctx, userID, id); err != nil {
		return nil, err
	}
	campaign, err := c.Store.RestartCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.Queue.EnqueueCampaignTick(campaign.ID, time.Time{}); err != nil {
		return nil, Wrap(KindInternal, err, "enqueue tick")
	}
	return campaign, nil
}

// DeleteCampaign removes a campaign, forbidden while RUNNING. Pending
// tick and email:send jobs are cancelled before the row is removed.
func (c *Commands) DeleteCampaign(ctx context.Context, userID, id int64) error {
	existing, err := c.Store.GetCampaign(ctx, userID, id)
	if err != nil {
		return err
	}
	if existing.Status != model.CampaignRunning {
		if err := c.Queue.CancelCampaignTick(id); err != nil {
			return err
		}
		if err := c.drainQueuedSends(ctx, id); err != nil {
			return err
		}
	}
	return c.Store.DeleteCampaign(ctx, userID, id)
}

// DuplicateCampaign deep-copies a campaign into a fresh DRAFT.
func (c *Commands) DuplicateCampaign(ctx context.Context, userID, id int64, newName string) (*model.Campaign, error) {
	return c.Store.DuplicateCampaign(ctx, userID, id, newName)
}

func (c *Commands) drainQueuedSends(ctx context.Context, campaignID int64) error {
	ids, err := c.Store.ListQueuedEmailLogIDs(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.Queue.CancelEmailSend(id); err != nil {
			return err
		}
	}
	return nil
}

// GetCampaignStats returns a campaign's live counters plus a
// recipient-status breakdown.
func (c *Commands) GetCampaignStats(ctx context.Context, userID, id int64) (*store.CampaignStats, error) {
	return c.Store.GetCampaignStats(ctx, userID, id)
}

// ListEmailLogs returns a paginated, optionally status-filtered attempt
// log for a campaign.
func (c *Commands) ListEmailLogs(ctx context.Context, f store.ListEmailLogsFilter) ([]*model.EmailLog, error) {
	return c.Store.ListEmailLogs(ctx, f)
}

// PoolMetrics exposes the shared SmtpPool's activity counters.
func (c *Commands) PoolMetrics() smtppool.Metrics {
	return c.Pool.Metrics()
}

// OfficeHours parses the configured office-hours window, shared by the
// sender and anything else that needs to reason about the gate.
func (c *Commands) OfficeHours() (scheduler.OfficeHours, error) {
	return scheduler.ParseOfficeHours(c.Config.OfficeHoursStart, c.Config.OfficeHoursEnd, c.Config.OfficeHoursTZ)
}
