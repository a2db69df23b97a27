package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/client"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/config"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

// operator is the actor recorded on every change made through the CLI.
var operator = identity.System("syncctl")

type services struct {
	proposals   *service.ProposalService
	ledger      *service.LedgerService
	withdrawals *service.WithdrawalService
}

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	db         *database.DB
	dispatcher *client.Dispatcher
	closers    []func()
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				_ = os.Setenv("CONFIG_FILE", path)
			}
		}
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) newLogger() *logger.Logger {
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	cfg, _ := c.ensureConfig()
	name := "syncctl"
	if cfg != nil {
		name = cfg.Service.Name
	}
	return logger.New(logger.Config{Level: level, Environment: "development", ServiceName: name, Version: "cli", Output: os.Stderr})
}

func (c *commandContext) openDB(ctx context.Context) (*database.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.db = db
	c.closers = append(c.closers, db.Close)
	return db, nil
}

// buildServices builds the service layer. Events raised by operator actions are
// published when NATS or Kafka are configured and drained by close.
func (c *commandContext) buildServices(ctx context.Context) (*services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	db, err := c.openDB(ctx)
	if err != nil {
		return nil, err
	}
	log := c.newLogger()

	var notifications *client.NotificationPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, "syncctl", log.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		c.closers = append(c.closers, func() { _ = nc.Close() })
		notifications = client.NewNotificationPublisher(nc)
	}
	var payouts *client.PayoutPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		payouts, err = client.NewPayoutPublisher(cfg.Kafka.Brokers, cfg.Kafka.PayoutTopic)
		if err != nil {
			return nil, fmt.Errorf("create payout publisher: %w", err)
		}
		c.closers = append(c.closers, func() { _ = payouts.Close() })
	}

	c.dispatcher = client.NewDispatcher(client.DefaultDispatcherConfig(), notifications, payouts, log.Logger)
	c.dispatcher.Start(ctx)

	minimum, err := cfg.MinimumWithdrawal()
	if err != nil {
		return nil, err
	}
	store := repository.NewPostgresStore(db)
	notifier := service.WithNotifier(c.dispatcher)
	ledger := service.NewLedgerService(store, cfg.Ledger.HoldPeriod.Duration, log, notifier)
	return &services{
		proposals:   service.NewProposalService(store, ledger, log, notifier),
		ledger:      ledger,
		withdrawals: service.NewWithdrawalService(store, ledger, minimum, log, notifier),
	}, nil
}

// close drains pending events and releases connections in reverse order.
func (c *commandContext) close(ctx context.Context) {
	if c.dispatcher != nil {
		_ = c.dispatcher.Close(ctx)
		c.dispatcher = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
	c.db = nil
}
