package main

import (
	"context"
	"fmt"
	"time"

	"linkwave/internal/billing"

	"github.com/go-co-op/gocron/v2"
)

type scheduledJob struct {
	name string
	def  gocron.JobDefinition
	run  func(ctx context.Context) error
}

func daily(hour, minute uint) gocron.JobDefinition {
	return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)))
}

func (app *application) jobs() []scheduledJob {
	return []scheduledJob{
		{
			// services carry a billing day, so the run is daily and only
			// today's services are invoiced
			name: "monthly-invoices",
			def:  daily(6, 0),
			run: func(ctx context.Context) error {
				_, err := app.monthly.Process(ctx, billing.MonthlyBillingOptions{})
				return err
			},
		},
		{
			name: "email-reminders",
			def:  daily(8, 0),
			run: func(ctx context.Context) error {
				sum, err := app.emailReminders.Process(ctx, billing.EmailReminderOptions{DaysBeforeDue: app.config.scheduler.reminderDaysOut})
				if err == nil {
					app.logger.Infow("email reminders queued", "due", sum.DueDate, "queued", sum.Queued, "skipped", sum.Skipped, "failed", sum.Failed)
				}
				return err
			},
		},
		{
			name: "sms-reminders",
			def:  daily(9, 0),
			run: func(ctx context.Context) error {
				sum, err := app.smsReminders.Process(ctx, billing.SMSReminderOptions{})
				if err == nil {
					app.logger.Infow("sms reminders sent", "processed", sum.Processed, "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
				}
				return err
			},
		},
		{
			name: "zoho-pending-sync",
			def:  gocron.DurationJob(app.config.scheduler.zohoSyncEvery),
			run: func(ctx context.Context) error {
				res, err := app.sync.SyncPending(ctx, app.config.scheduler.zohoSyncBatch)
				if err == nil && res.Processed > 0 {
					app.logger.Infow("zoho pending sync", "processed", res.Processed, "synced", res.Synced, "failed", res.Failed)
				}
				return err
			},
		},
		{
			name: "payment-sync-monitor",
			def:  gocron.DurationJob(app.config.scheduler.monitorEvery),
			run: func(ctx context.Context) error {
				_, err := app.monitor.Run(ctx)
				return err
			},
		},
		{
			name: "ar-snapshot",
			def:  daily(23, 55),
			run: func(ctx context.Context) error {
				_, err := app.tracker.DailySnapshot(ctx, time.Now().In(app.location))
				return err
			},
		},
	}
}

// startScheduler registers the billing jobs in the billing timezone. Jobs
// never overlap themselves; a run still going when the next is due is
// skipped.
func (app *application) startScheduler(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(app.location))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	for _, j := range app.jobs() {
		job := j
		_, err := s.NewJob(
			job.def,
			gocron.NewTask(func() {
				start := time.Now()
				if err := job.run(ctx); err != nil {
					app.logger.Errorw("scheduled job failed", "job", job.name, "error", err, "duration", time.Since(start))
					return
				}
				app.logger.Debugw("scheduled job finished", "job", job.name, "duration", time.Since(start))
			}),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("register job %s: %w", job.name, err)
		}
	}

	s.Start()
	app.logger.Infow("scheduler started", "jobs", len(app.jobs()), "tz", app.location.String())
	return s, nil
}
