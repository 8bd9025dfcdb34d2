package scheduler

import (
	"context"

	"github.com/orellanin/campaignrunner/internal/model"
)

// Sweep promotes every SCHEDULED campaign whose scheduledAt has passed to
// RUNNING, after validating it still has an active SmtpAccount and at
// least one recipient. Runs on its own asynq.Scheduler cron entry every
// 60 seconds.
func Sweep(ctx context.Context, d *Deps) error {
	due, err := d.Store.ListDueScheduledCampaigns(ctx)
	if err != nil {
		return err
	}

	for _, c := range due {
		if err := promoteOrFail(ctx, d, c); err != nil {
			d.Log.Errorf(err, "sweep: failed to promote campaign %d", c.ID)
		}
	}
	return nil
}

func promoteOrFail(ctx context.Context, d *Deps, c *model.Campaign) error {
	accounts, err := d.Store.ListActiveSmtpAccountsByIDs(ctx, c.SmtpAccountIDs)
	if err != nil {
		return err
	}
	if len(accounts) == 0 || c.TotalRecipients == 0 {
		_, err := d.Store.TransitionCampaign(ctx, c.ID, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignFailed, nil)
		return err
	}

	_, err = d.Store.TransitionCampaign(ctx, c.ID, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignRunning, func(cc *model.Campaign) {
		now := d.now()
		cc.StartedAt = &now
	})
	if err != nil {
		return err
	}
	return d.Queue.EnqueueCampaignTick(c.ID, d.now())
}
