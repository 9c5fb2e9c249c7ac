package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
	emailsvc "github.com/Abeyoo/Final-ID8-sub001/services/email"
	locksvc "github.com/Abeyoo/Final-ID8-sub001/services/lock"
	logsvc "github.com/Abeyoo/Final-ID8-sub001/services/logger"
	scorersvc "github.com/Abeyoo/Final-ID8-sub001/services/scorer"
	"github.com/Abeyoo/Final-ID8-sub001/storage/database"
	sqlxrepos "github.com/Abeyoo/Final-ID8-sub001/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	if conf.Database.Engine != "postgres" {
		log.Fatalf("admin: unsupported database engine %q", conf.Database.Engine)
	}

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatal(err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(logger, err)
	defer func() { _ = db.Close() }()

	// set up services
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	signal.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)

	signalSvc := signal.NewService(conf, sqlxrepos.NewSignalRepository(db), validate, translator, logger)
	repo := sqlxrepos.NewPersonalityRepository(db)
	metrics := personality.DefaultMetrics()

	var scorer personality.Scorer = personality.NewHeuristicScorer(conf)
	if conf.Scorer.RemoteURL != "" {
		scorer = scorersvc.NewRemoteScorer(conf, logger)
	}
	var mailSvc core.EmailService = emailsvc.NewConsoleService(conf, logger)
	if !conf.Debug {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	// runs must not overlap the API's runs of the same user
	locker := personality.NewLocalLocker()
	if conf.Redis.Addr != "" {
		rdb, err := locksvc.NewRedisClient(context.Background(), conf)
		errAndDie(logger, err)
		locker = locksvc.NewRedisLocker(rdb, conf.Redis.LockTTL, logger)
	}

	agg := personality.NewAggregator(conf, personality.AggregatorDeps{
		Repo:     repo,
		Signals:  signalSvc,
		Scorer:   scorer,
		Ranker:   personality.NewRanker(repo, metrics),
		Locker:   locker,
		Notifier: personality.NewNotifier(repo, mailSvc, logger),
		Metrics:  metrics,
		Logger:   logger,
	})

	// start CLI
	cli := commandLine{
		db:      db.DB,
		svc:     personality.NewService(conf, repo, agg, validate, translator),
		sweeper: personality.NewSweeper(conf, agg, signalSvc, logger),
		out:     os.Stdout,
		outFd:   int(os.Stdout.Fd()),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		logger.Sync()
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
