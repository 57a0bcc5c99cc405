package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "perpflow/config"
	"perpflow/internal/channel"
	"perpflow/internal/feed"
	"perpflow/internal/processor"
	"perpflow/internal/symbols"
	"perpflow/logger"
	"perpflow/models"
	"perpflow/reader/extended"
	"perpflow/reader/lighter"
	"perpflow/reader/paradex"
	"perpflow/writer"
)

type venueFeeds struct {
	venue   string
	market  *feed.MarketFeed
	account *feed.AccountFeed
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Perpflow.Name,
		"version": cfg.Perpflow.Version,
	}).Info("starting perpflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "Perpflow", cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.EventBuffer, cfg.Channels.BatchBuffer)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		go channels.StartMetricsReporting(ctx)
	}
	go monitorAccountEvents(ctx, log, channels.Account.Events)

	marketCfg := coordinatorConfig(cfg.Feeds.Market)
	accountCfg := coordinatorConfig(cfg.Feeds.Account)

	var feeds []venueFeeds

	if cfg.Source.Paradex.Enabled {
		mapper := mustMapper(log, "paradex", cfg.Source.Paradex.Symbols)
		subs := feed.NewSubscriptionSet(mapper.Canonicals()...)
		feeds = append(feeds, venueFeeds{
			venue:   "paradex",
			market:  feed.NewMarketFeed("paradex", paradex.NewMarketTransport(cfg.Source.Paradex, mapper, subs), subs, channels.Book, marketCfg),
			account: feed.NewAccountFeed("paradex", paradex.NewAccountTransport(cfg.Source.Paradex, mapper), channels.Account, accountCfg),
		})
	}
	if cfg.Source.Extended.Enabled {
		mapper := mustMapper(log, "extended", cfg.Source.Extended.Symbols)
		subs := feed.NewSubscriptionSet(mapper.Canonicals()...)
		feeds = append(feeds, venueFeeds{
			venue:   "extended",
			market:  feed.NewMarketFeed("extended", extended.NewMarketTransport(cfg.Source.Extended, mapper, subs), subs, channels.Book, marketCfg),
			account: feed.NewAccountFeed("extended", extended.NewAccountTransport(cfg.Source.Extended, mapper), channels.Account, accountCfg),
		})
	}
	if cfg.Source.Lighter.Enabled {
		mapper := mustMapper(log, "lighter", cfg.Source.Lighter.Symbols)
		subs := feed.NewSubscriptionSet(mapper.Canonicals()...)
		feeds = append(feeds, venueFeeds{
			venue:   "lighter",
			market:  feed.NewMarketFeed("lighter", lighter.NewMarketTransport(cfg.Source.Lighter, mapper, subs), subs, channels.Book, marketCfg),
			account: feed.NewAccountFeed("lighter", lighter.NewAccountTransport(cfg.Source.Lighter, mapper), channels.Account, accountCfg),
		})
	}

	if len(feeds) == 0 {
		log.Error("no venues enabled")
		os.Exit(1)
	}

	flattener := processor.NewFlattener(cfg, channels.Book)

	var snapshotWriter *writer.SnapshotWriter
	var kafkaWriter *writer.KafkaWriter
	var writerChans []chan models.BookBatch

	if cfg.Storage.S3.Enabled {
		s3Chan := make(chan models.BookBatch, cfg.Channels.BatchBuffer)
		snapshotWriter, err = writer.NewSnapshotWriter(cfg, s3Chan)
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
		writerChans = append(writerChans, s3Chan)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive writer")
	}
	if cfg.Storage.Kafka.Enabled {
		kafkaChan := make(chan models.BookBatch, cfg.Channels.BatchBuffer)
		kafkaWriter, err = writer.NewKafkaWriter(cfg, kafkaChan)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		writerChans = append(writerChans, kafkaChan)
	}
	writer.FanOut(ctx, channels.Book.Batches, writerChans...)

	for _, vf := range feeds {
		vfLog := log.WithComponent("main").WithFields(logger.Fields{"venue": vf.venue})
		if err := vf.market.Start(ctx); err != nil {
			vfLog.WithError(err).Warn("market feed failed to start")
		}
		if err := vf.account.Start(ctx); err != nil {
			vfLog.WithError(err).Warn("account feed failed to start")
		}
	}

	if err := flattener.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start flattener")
		os.Exit(1)
	}
	if snapshotWriter != nil {
		if err := snapshotWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("s3 writer failed to start")
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("kafka writer failed to start")
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	for _, vf := range feeds {
		log.WithFields(logger.Fields{"venue": vf.venue}).Info("stopping feeds")
		vf.market.Stop()
		vf.account.Stop()
	}

	log.Info("stopping flattener")
	flattener.Stop()

	cancel()

	if snapshotWriter != nil {
		log.Info("stopping S3 writer")
		snapshotWriter.Stop()
	}
	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	log.Info("perpflow stopped")
}

// monitorAccountEvents drains the account event channel and surfaces balance
// and position changes in the logs. Account state itself lives on the feeds;
// this is the operational trail.
func monitorAccountEvents(ctx context.Context, log *logger.Log, events <-chan models.FeedEvent) {
	monLog := log.WithComponent("account_monitor")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fields := logger.Fields{"venue": ev.Venue, "kind": ev.Kind.String()}
			switch ev.Kind {
			case models.KindBalances:
				for asset, st := range ev.Balances {
					monLog.WithFields(fields).WithFields(logger.Fields{
						"asset":     asset,
						"total":     st.Total,
						"available": st.Available,
					}).Info("balance update")
				}
			case models.KindPositions:
				monLog.WithFields(fields).WithFields(logger.Fields{
					"positions": len(ev.Positions),
					"partial":   ev.Partial,
				}).Info("position update")
			}
		}
	}
}

func coordinatorConfig(fc appconfig.FeedConfig) feed.CoordinatorConfig {
	return feed.CoordinatorConfig{
		PullInterval:    fc.PullInterval,
		LivenessTimeout: fc.LivenessTimeout,
		DegradedAfter:   fc.DegradedAfter,
		RedialMin:       fc.RedialMin,
		RedialMax:       fc.RedialMax,
	}
}

func mustMapper(log *logger.Log, venue string, pairs map[string]string) *symbols.Mapper {
	mapper, err := symbols.NewMapper(venue, pairs)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"venue": venue}).Error("invalid symbol mapping")
		os.Exit(1)
	}
	return mapper
}
