// Command fixengine 按配置文件启动 FIX 会话引擎.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/wyfcoding/fixengine/app"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/idgen"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/messagequeue/kafka"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/scheduler"
	"github.com/wyfcoding/fixengine/session"
	"github.com/wyfcoding/fixengine/store"
	"github.com/wyfcoding/fixengine/transport"
	"github.com/wyfcoding/fixengine/worker"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/fixengine.toml", "path to the TOML config file")
	flag.Parse()

	conf := new(config.Config)
	if err := config.Load(*configPath, conf); err != nil {
		slog.Error("load config failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := run(conf); err != nil {
		slog.Error("engine exited with error", "error", err)
		os.Exit(1)
	}
}

func run(conf *config.Config) error {
	logger := logging.NewFromConfig(logging.Config{
		Service:    conf.Engine.Name,
		Module:     "engine",
		Level:      conf.Log.Level,
		Format:     conf.Log.Format,
		File:       conf.Log.File,
		Stdout:     conf.Log.Stdout,
		MaxSize:    conf.Log.MaxSize,
		MaxBackups: conf.Log.MaxBackups,
		MaxAge:     conf.Log.MaxAge,
		Compress:   conf.Log.Compress,
	})
	logging.SetDefault(logger)
	config.PrintWithMask(conf)

	m := metrics.NewMetrics(conf.Engine.Name)
	m.RegisterBuildInfo(conf.Engine.Name, version)

	ids, err := idgen.NewGenerator(conf.Snowflake)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}

	ctx := context.Background()
	factory, closeStore, err := store.Open(ctx, conf, logger, m)
	if err != nil {
		return err
	}

	kc := conf.MessageQueue.Kafka
	var producer *kafka.Producer
	if kc.Topic != "" && len(kc.Brokers) > 0 {
		producer = kafka.NewProducer(kc, logger.Named("kafka"), m)
		closeStore = func(next func()) func() {
			return func() {
				_ = producer.Close()
				next()
			}
		}(closeStore)
	}

	sched := scheduler.NewScheduler(logger.Named("scheduler"), m)
	reg := session.NewRegistry(logger, sched)
	tOpts := []transport.Option{
		transport.WithLogger(logger.Logger),
		transport.WithMetrics(m),
		transport.WithMaxMessageSize(conf.Transport.MaxMessageSize),
		transport.WithWriteTimeout(conf.Transport.WriteTimeout),
	}
	initiator := transport.NewInitiator(tOpts...)

	acceptors := 0
	for _, sc := range conf.Sessions {
		s, err := newSession(ctx, sc, factory, producer, logger, m, ids)
		if err != nil {
			closeStore()
			return err
		}
		if err := reg.Register(s); err != nil {
			closeStore()
			return err
		}
		if s.Settings().Initiator {
			initiator.Add(s, sc.ConnectAddress, sc.ReconnectInterval)
		} else {
			acceptors++
		}
	}

	opts := []app.Option{app.WithCleanup(closeStore)}
	if conf.Metrics.Enabled {
		opts = append(opts, app.WithCleanup(m.ExposeHttp(conf.Metrics.Address, conf.Metrics.Path)))
	}
	engine := app.New(conf.Engine.Name, logger.Logger, opts...)
	engine.Append(app.Hook{
		Name:    "scheduler",
		OnStart: func(context.Context) error { sched.Start(); return nil },
		OnStop:  sched.Stop,
	})

	if acceptors > 0 {
		if conf.Transport.ListenAddress == "" {
			closeStore()
			return errors.New("acceptor sessions configured without transport.listen_address")
		}
		pool := worker.NewPool(
			worker.WithName("acceptor"),
			worker.WithSize(conf.Transport.Workers),
			worker.WithQueueSize(conf.Transport.QueueSize),
			worker.WithLogger(logger.Logger),
			worker.WithMetrics(m),
		)
		acceptor := transport.NewAcceptor(reg, pool, tOpts...)
		engine.Go("acceptor", func(ctx context.Context) error {
			defer pool.Stop()
			return acceptor.ListenAndServe(ctx, conf.Transport.ListenAddress)
		})
	}
	engine.Go("initiator", initiator.Run)

	if kc.InboundTopic != "" && len(kc.Brokers) > 0 {
		consumer := kafka.NewConsumer(kc, logger.Named("kafka"), m)
		engine.Go("kafka-consumer", func(ctx context.Context) error {
			defer consumer.Close()
			err := consumer.Consume(ctx, kafka.SendHandler(reg, message.DefaultDictionary()))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// 最后登记，最先停止：传输仍在时完成 Logout 握手
	engine.Append(app.Hook{Name: "sessions", OnStop: reg.StopAll})

	return engine.Run(ctx)
}

func newSession(ctx context.Context, sc config.SessionConfig, factory store.Factory, producer *kafka.Producer,
	logger *logging.Logger, m *metrics.Metrics, ids idgen.Generator,
) (*session.Session, error) {
	id, st, err := session.SettingsFromConfig(sc)
	if err != nil {
		return nil, err
	}
	ms, err := factory.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	var application session.Application = &eventLogger{logger: logger.Named("application").Logger}
	if sc.ForwardApplication && producer != nil {
		application = kafka.NewForwarder(application, producer, logger)
	}
	return session.New(id, st, ms, application,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithIDGenerator(ids),
	), nil
}

// eventLogger 记录会话登录登出与入站业务报文.
type eventLogger struct {
	session.NopApplication
	logger *slog.Logger
}

func (l *eventLogger) OnLogon(id message.SessionID) {
	l.logger.Info("session logged on", "session", id.String())
}

func (l *eventLogger) OnLogout(id message.SessionID) {
	l.logger.Info("session logged out", "session", id.String())
}

func (l *eventLogger) FromApp(msg *message.Message, id message.SessionID) error {
	seq, _ := msg.SeqNum()
	l.logger.Debug("application message", "session", id.String(), "msg_type", msg.MsgType(), "seq", seq)
	return nil
}
