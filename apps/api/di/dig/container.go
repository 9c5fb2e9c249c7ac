package dig_container

import (
	"context"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/Abeyoo/Final-ID8-sub001/apps/api/echo"
	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
	emailsvc "github.com/Abeyoo/Final-ID8-sub001/services/email"
	locksvc "github.com/Abeyoo/Final-ID8-sub001/services/lock"
	logsvc "github.com/Abeyoo/Final-ID8-sub001/services/logger"
	scorersvc "github.com/Abeyoo/Final-ID8-sub001/services/scorer"
	tracingsvc "github.com/Abeyoo/Final-ID8-sub001/services/tracing"
	"github.com/Abeyoo/Final-ID8-sub001/storage/database"
	inmemdb "github.com/Abeyoo/Final-ID8-sub001/storage/database/inmem"
	sqlxrepos "github.com/Abeyoo/Final-ID8-sub001/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Storage holds the repositories of the configured engine.
	Storage struct {
		dig.Out
		SignalRepo      signal.Repository
		PersonalityRepo personality.Repository
		CloseDB         func() error `name:"closeDB"`
	}

	CloseDBParam struct {
		dig.In
		CloseDB func() error `name:"closeDB"`
	}

	aggregatorParam struct {
		dig.In
		Conf     *core.Config
		Repo     personality.Repository
		Signals  *signal.Service
		Scorer   personality.Scorer
		Locker   personality.RunLocker
		Notifier *personality.Notifier
		Metrics  *personality.Metrics
		Logger   core.Logger
	}
)

func newZap(conf *core.Config) *zap.Logger {
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatal(errors.Wrap(err, "setting up zap").Error())
	}
	return zl
}

func newLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Engine == "inmem" {
		loggerParam.Logger.Warn("using the in-memory database, data will not survive restarts")
		db := inmemdb.Open()
		return Storage{
			SignalRepo:      inmemdb.NewSignalRepository(db),
			PersonalityRepo: inmemdb.NewPersonalityRepository(db),
			CloseDB:         func() error { return nil },
		}
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Storage{
		SignalRepo:      sqlxrepos.NewSignalRepository(db),
		PersonalityRepo: sqlxrepos.NewPersonalityRepository(db),
		CloseDB:         db.Close,
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newScorer(conf *core.Config, logger core.Logger) personality.Scorer {
	if conf.Scorer.RemoteURL != "" {
		logger.Info(fmt.Sprintf("scoring with %s", conf.Scorer.RemoteURL))
		return scorersvc.NewRemoteScorer(conf, logger)
	}
	return personality.NewHeuristicScorer(conf)
}

func newLocker(conf *core.Config, logger core.Logger) personality.RunLocker {
	if conf.Redis.Addr == "" {
		return personality.NewLocalLocker()
	}
	rdb, err := locksvc.NewRedisClient(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
	}
	return locksvc.NewRedisLocker(rdb, conf.Redis.LockTTL, logger)
}

func newNotifier(repo personality.Repository, mailSvc core.EmailService, logger core.Logger) *personality.Notifier {
	return personality.NewNotifier(repo, mailSvc, logger)
}

func newAggregator(p aggregatorParam) *personality.Aggregator {
	return personality.NewAggregator(p.Conf, personality.AggregatorDeps{
		Repo:     p.Repo,
		Signals:  p.Signals,
		Scorer:   p.Scorer,
		Ranker:   personality.NewRanker(p.Repo, p.Metrics),
		Locker:   p.Locker,
		Notifier: p.Notifier,
		Metrics:  p.Metrics,
		Logger:   p.Logger,
	})
}

func newSweeper(conf *core.Config, agg *personality.Aggregator, signals *signal.Service, logger core.Logger) *personality.Sweeper {
	return personality.NewSweeper(conf, agg, signals, logger)
}

func newTracing(conf *core.Config, logger core.Logger) tracingsvc.ShutdownFunc {
	shutdown, err := tracingsvc.Setup(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up tracing: %v", err), err)
	}
	return shutdown
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	personalitySvc *personality.Service,
	signalSvc *signal.Service,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logger,
		PersonalitySvc: personalitySvc,
		SignalSvc:      signalSvc,
		Validate:       validate,
		Translator:     translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newTracing))
	must(c.Provide(newStorage))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(signal.NewService))
	must(c.Provide(personality.DefaultMetrics))
	must(c.Provide(newScorer))
	must(c.Provide(newLocker))
	must(c.Provide(newNotifier))
	must(c.Provide(newAggregator))
	must(c.Provide(personality.NewService))
	must(c.Provide(newSweeper))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
