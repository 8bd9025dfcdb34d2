// Package scheduler implements the campaign:tick pacing algorithm, the
// calendar sweep, and the office-hours gate — the transitions a campaign
// makes on its own once running (SCHEDULED promotion, COMPLETED/FAILED
// detection). User-initiated transitions (start/pause/resume/stop/
// restart) live in the engine command surface instead.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/orellanin/campaignrunner/internal/config"
	"github.com/orellanin/campaignrunner/internal/jobqueue"
	"github.com/orellanin/campaignrunner/internal/logging"
	"github.com/orellanin/campaignrunner/internal/model"
	"github.com/orellanin/campaignrunner/internal/store"
)

// Deps bundles what the tick, sweep and gate need. Built once at process
// startup and threaded through every handler.
type Deps struct {
	Store   *store.Store
	Queue   *jobqueue.Client
	Config  *config.Config
	Log     logging.Logger
	Clock   func() time.Time
	Rand    *rand.Rand
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

func (d *Deps) randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	if d.Rand != nil {
		return d.Rand.Intn(n)
	}
	return rand.Intn(n)
}

// shortCadence is the re-enqueue delay used when a tick claimed nothing
// but recipients remain pending (e.g. transient claim contention).
const shortCadence = 30 * time.Second

// Tick runs one campaign:tick job: step 1-6 of the pacing algorithm.
func Tick(ctx context.Context, d *Deps, campaignID int64) error {
	campaign, err := d.Store.GetCampaignByIDUnscoped(ctx, campaignID)
	if err != nil {
		d.Log.Warnf("tick: campaign %d not found, dropping stale tick", campaignID)
		return nil
	}
	if campaign.Status != model.CampaignRunning {
		d.Log.Debugf("tick: campaign %d is %s, not RUNNING, dropping stale tick", campaignID, campaign.Status)
		return nil
	}

	accounts, err := d.Store.ListActiveSmtpAccountsByIDs(ctx, campaign.SmtpAccountIDs)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		d.Log.Warnf("tick: campaign %d has no active smtp account, failing", campaignID)
		return failCampaign(ctx, d, campaignID)
	}

	batchLimit := campaign.Settings.BatchSizeMax
	if batchLimit <= 0 {
		batchLimit = d.Config.BatchSizeMax
	}
	claimed, err := d.Store.ClaimNextBatch(ctx, campaignID, batchLimit)
	if err != nil {
		return err
	}

	if len(claimed) == 0 {
		pending, err := d.Store.CountPendingRecipients(ctx, campaignID)
		if err != nil {
			return err
		}
		if pending == 0 {
			return checkCompletion(ctx, d, campaignID)
		}
		return d.Queue.EnqueueCampaignTick(campaignID, d.now().Add(shortCadence))
	}

	cumDelay, err := paceAndEnqueue(ctx, d, campaign, accounts, claimed)
	if err != nil {
		return err
	}

	return d.Queue.EnqueueCampaignTick(campaignID, d.now().Add(cumDelay))
}

// paceAndEnqueue implements §6.6.2 step 5: batch-size/delay pacing plus
// round-robin account assignment, creating a QUEUED EmailLog and
// enqueuing email:send for every claimed recipient.
func paceAndEnqueue(ctx context.Context, d *Deps, campaign *model.Campaign, accounts []*model.SmtpAccount, claimed []model.CampaignRecipient) (time.Duration, error) {
	minDelay, maxDelay := d.Config.MinDelayBetweenEmails, d.Config.MaxDelayBetweenEmails
	batchMin, batchMax := campaign.Settings.BatchSizeMin, campaign.Settings.BatchSizeMax
	if batchMin <= 0 {
		batchMin = d.Config.BatchSizeMin
	}
	if batchMax <= 0 {
		batchMax = d.Config.BatchSizeMax
	}
	batchDelay := campaign.Settings.BatchDelay
	if batchDelay <= 0 {
		batchDelay = d.Config.BatchBreakDuration
	}

	var cumDelay time.Duration
	inBatch := 0
	batchSize := drawBatchSize(d, batchMin, batchMax)

	for _, r := range claimed {
		seq := int64(0)
		if r.ClaimSeq != nil {
			seq = *r.ClaimSeq
		}
		account := accounts[int(seq%int64(len(accounts)))]

		lo, hi := minDelay, maxDelay
		if account.MinDelaySeconds > 0 && account.MaxDelaySeconds > 0 {
			lo = time.Duration(account.MinDelaySeconds) * time.Second
			hi = time.Duration(account.MaxDelaySeconds) * time.Second
		}
		dEmail := drawDelay(d, lo, hi)
		cumDelay += dEmail
		inBatch++
		if inBatch >= batchSize {
			cumDelay += batchDelay
			inBatch = 0
			batchSize = drawBatchSize(d, batchMin, batchMax)
		}

		if err := d.Store.AssignSmtpAccount(ctx, r.ID, account.ID); err != nil {
			return 0, err
		}
		log, err := d.Store.CreateQueuedEmailLog(ctx, campaign.ID, r.ID, account.ID)
		if err != nil {
			return 0, err
		}
		if err := d.Queue.EnqueueEmailSend(log.ID, campaign.ID, 1, d.now().Add(cumDelay)); err != nil {
			return 0, err
		}
	}

	return cumDelay, nil
}

func drawBatchSize(d *Deps, min, max int) int {
	if max <= min {
		return min
	}
	return min + d.randIntn(max-min+1)
}

func drawDelay(d *Deps, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(d.randIntn(int(span)+1))
}

func checkCompletion(ctx context.Context, d *Deps, campaignID int64) error {
	campaign, err := d.Store.GetCampaignByIDUnscoped(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.AttemptsMade() >= campaign.TotalRecipients {
		_, err := d.Store.TransitionCampaign(ctx, campaignID, []model.CampaignStatus{model.CampaignRunning}, model.CampaignCompleted, func(c *model.Campaign) {
			now := d.now()
			c.CompletedAt = &now
		})
		return err
	}
	return nil
}

func failCampaign(ctx context.Context, d *Deps, campaignID int64) error {
	_, err := d.Store.TransitionCampaign(ctx, campaignID, []model.CampaignStatus{model.CampaignRunning}, model.CampaignFailed, nil)
	return err
}
