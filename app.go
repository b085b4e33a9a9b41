package main

import (
	"context"
	"os"
	"time"

	"csms/actions"
	"csms/api"
	"csms/auth"
	"csms/authorization"
	"csms/charger"
	"csms/config"
	"csms/notifier"
	"csms/notifier/amqp"
	natsnotifier "csms/notifier/nats"
	"csms/server"
	"csms/store"
	"csms/store/postgres"
	"csms/transaction"

	"github.com/joomcode/errorx"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

func newLogger(cfg *config.Config) (*logrus.Entry, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errorx.Decorate(err, "invalid log level")
	}
	log.SetLevel(level)

	return logrus.NewEntry(log), nil
}

// provideStore uses PostgreSQL when a database url is configured, memory otherwise
func provideStore(lc fx.Lifecycle, cfg *config.Config, log *logrus.Entry) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Warn("no database configured, charger data is kept in memory")
		return store.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			db.Close()
			return nil
		},
	})

	return db, nil
}

// provideNATS returns nil when NATS is disabled
func provideNATS(lc fx.Lifecycle, cfg *config.Config, log *logrus.Entry) (*nats.Conn, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}

	nc, err := natsnotifier.Connect(cfg.NATS.URL, log.WithField("component", "nats"))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return nc.Drain()
		},
	})

	return nc, nil
}

func providePublisher(lc fx.Lifecycle, cfg *config.Config, nc *nats.Conn, log *logrus.Entry) (notifier.Publisher, error) {
	var publishers notifier.Fanout

	if cfg.AMQP.Enabled {
		p, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return p.Close()
			},
		})
		publishers = append(publishers, p)
	}

	if nc != nil {
		publishers = append(publishers, natsnotifier.NewPublisher(nc, cfg.NATS.EventSubjectPrefix, log))
	}

	switch len(publishers) {
	case 0:
		return notifier.NewLogPublisher(log), nil
	case 1:
		return publishers[0], nil
	default:
		return publishers, nil
	}
}

func provideAuthorizer(cfg *config.Config) authorization.Authorizer {
	if cfg.Authorization.URL == "" {
		return authorization.Static{}
	}
	return authorization.New(cfg.Authorization.URL, cfg.Authorization.APIKey, cfg.AuthorizationTimeout())
}

func provideAuthenticator(s store.Store, cfg *config.Config, log *logrus.Entry) *auth.Authenticator {
	return auth.NewAuthenticator(s, auth.Config{
		Disabled:              cfg.OCPP.DisableChargerAuth,
		MasterPassword:        cfg.OCPP.MasterPassword,
		MasterPasswordVendors: cfg.OCPP.MasterPasswordVendors,
	}, log)
}

func provideRegistry() *charger.Registry {
	return charger.NewRegistry()
}

func provideTransactions(s store.Store, p notifier.Publisher, log *logrus.Entry) *transaction.Manager {
	return transaction.NewManager(s, p, log)
}

func provideFactory(
	s store.Store,
	transactions *transaction.Manager,
	authorizer authorization.Authorizer,
	authenticator *auth.Authenticator,
	reg *charger.Registry,
	cfg *config.Config,
	log *logrus.Entry,
) *charger.Factory {
	return charger.NewFactory(s, transactions, authorizer, authenticator, reg, charger.Options{
		MessageTimeout: cfg.MessageTimeout(),
		BcryptCost:     cfg.OCPP.BcryptCost,
	}, log)
}

func provideService(factory *charger.Factory, s store.Store, transactions *transaction.Manager, log *logrus.Entry) *actions.Service {
	return actions.NewService(factory, s, transactions, log)
}

func startChargerServer(lc fx.Lifecycle, factory *charger.Factory, cfg *config.Config, log *logrus.Entry) {
	srv := server.New(factory, server.Options{
		Addr:           cfg.Addr(),
		CertFile:       cfg.TLS.CertFile,
		KeyFile:        cfg.TLS.KeyFile,
		MaxMessageSize: cfg.OCPP.MaxMessageSize,
	}, log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping charger server")
			return srv.Shutdown(ctx)
		},
	})
}

func startAPI(lc fx.Lifecycle, service *actions.Service, cfg *config.Config, log *logrus.Entry) {
	if !cfg.API.Enabled {
		return
	}

	srv := api.NewServer(service, cfg.APIAddr(), cfg.API.APIKey, log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startCommandServer(lc fx.Lifecycle, nc *nats.Conn, service *actions.Service, cfg *config.Config, log *logrus.Entry) {
	if nc == nil {
		return
	}

	commands := natsnotifier.NewCommandServer(nc, cfg.NATS.CommandSubject, service.Handlers(), cfg.MessageTimeout()+5*time.Second, log)
	log.Infof("waiting for command responses up to %s", commands.Timeout())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return commands.Start()
		},
		OnStop: func(context.Context) error {
			return commands.Stop()
		},
	})
}
