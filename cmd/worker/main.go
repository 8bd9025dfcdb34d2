package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orellanin/campaignrunner/internal/config"
	"github.com/orellanin/campaignrunner/internal/cryptobox"
	"github.com/orellanin/campaignrunner/internal/database"
	"github.com/orellanin/campaignrunner/internal/jobqueue"
	"github.com/orellanin/campaignrunner/internal/logging"
	"github.com/orellanin/campaignrunner/internal/scheduler"
	"github.com/orellanin/campaignrunner/internal/sender"
	"github.com/orellanin/campaignrunner/internal/smtppool"
	"github.com/orellanin/campaignrunner/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Env)
	log.Infof("starting campaign dispatch worker, env=%s", cfg.Env)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal(err, "failed to connect to postgres")
	}
	defer db.Close()
	log.Info("connected to postgres")

	if err := database.InitSchema(db); err != nil {
		log.Fatal(err, "failed to initialize schema")
	}
	log.Info("schema initialized")

	redis, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer redis.Close()
	log.Info("connected to redis")

	box, err := cryptobox.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal(err, "failed to init crypto box")
	}
	st := store.New(db, box)

	pool := smtppool.New(smtppool.Config{
		MaxPoolSize:    cfg.SmtpPool.MaxPoolSize,
		IdleTimeout:    cfg.SmtpPool.IdleTimeout,
		MaxConnections: cfg.SmtpPool.MaxConnections,
		MaxMessages:    cfg.SmtpPool.MaxMessages,
		RateLimit:      cfg.SmtpPool.RateLimit,
	})
	defer pool.Shutdown()

	queueClient, err := jobqueue.NewClient(cfg)
	if err != nil {
		log.Fatal(err, "failed to build job queue client")
	}
	defer queueClient.Close()

	hours, err := scheduler.ParseOfficeHours(cfg.OfficeHoursStart, cfg.OfficeHoursEnd, cfg.OfficeHoursTZ)
	if err != nil {
		log.Fatal(err, "failed to parse office hours")
	}

	deps := &scheduler.Deps{
		Store:  st,
		Queue:  queueClient,
		Config: cfg,
		Log:    log,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	snd := &sender.Sender{
		Store:  st,
		Pool:   pool,
		Queue:  queueClient,
		Config: cfg,
		Log:    log,
		Hours:  hours,
	}

	server, err := jobqueue.NewServer(cfg)
	if err != nil {
		log.Fatal(err, "failed to build job queue server")
	}
	server.HandleFunc(jobqueue.TypeCampaignTick, func(ctx context.Context, _ string, payload []byte) error {
		p, err := jobqueue.UnmarshalCampaignTickPayload(payload)
		if err != nil {
			return err
		}
		return scheduler.Tick(ctx, deps, p.CampaignID)
	})
	server.HandleFunc(jobqueue.TypeEmailSend, func(ctx context.Context, _ string, payload []byte) error {
		p, err := jobqueue.UnmarshalEmailSendPayload(payload)
		if err != nil {
			return err
		}
		return snd.Run(ctx, p.EmailLogID, p.CampaignID, p.Attempt)
	})
	scheduler.RegisterSweepHandler(server, deps)

	cron, err := scheduler.NewCronServer(cfg.RedisURL, deps)
	if err != nil {
		log.Fatal(err, "failed to build cron server")
	}
	if err := cron.Register(); err != nil {
		log.Fatal(err, "failed to register calendar sweep")
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("job queue server started")
		errCh <- server.Run()
	}()
	go func() {
		log.Info("cron scheduler started")
		errCh <- cron.Run()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error(err, "worker component exited unexpectedly")
		}
	}

	cron.Shutdown()
	server.Shutdown()
	log.Info("worker stopped")
}
