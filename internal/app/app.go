package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"

	"notifyd/internal/config"
	"notifyd/internal/digest"
	"notifyd/internal/eventbus"
	"notifyd/internal/flags"
	"notifyd/internal/ingest"
	"notifyd/internal/mailer"
	"notifyd/internal/notification"
	"notifyd/internal/notifier"
	"notifyd/internal/notifier/broadcast"
	"notifyd/internal/observability/server"
	"notifyd/internal/push"
	"notifyd/internal/rendercache"
	"notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	"notifyd/internal/task/scheduler"
	logx "notifyd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rdbs  map[string]*redis.Client

	flags  flags.Source
	notif  *notifier.Service
	fanout *broadcast.Service
	digest *digest.Service
	ingest *ingest.RedisStream
	sched  *scheduler.Service
	http   *server.Service
}

// NewApp loads the config and builds every component. Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(ctx, cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm: cfgm,
		logs: logSvc,
		log:  log.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
		rdbs: map[string]*redis.Client{},
	}
	if err := a.build(ctx, cfg, log); err != nil {
		a.closeResources()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	// The flag source is chosen once; switching needs a restart.
	if fc := cfg.Flags; fc != nil && strings.TrimSpace(fc.RedisAddr) != "" {
		rc, _ := mapRemoteFlags(fc)
		a.flags = flags.NewRemote(a.redis(fc.RedisAddr), rc, log.With(logx.String("comp", "flags")))
	} else {
		var overrides map[string]bool
		if fc != nil {
			overrides = fc.Overrides
		}
		a.flags = flags.NewStatic(overrides)
	}
	a.log.Info("flag source selected", logx.String("kind", string(a.flags.Kind())))

	mobile, safari, err := a.snsTransports(ctx, cfg, log)
	if err != nil {
		return err
	}
	var browser notifier.Transport
	if wc, ok, _ := mapWebPushConfig(cfg); ok {
		browser = push.NewWebPush(wc, store, log.With(logx.String("comp", "webpush")))
	}

	ncfg, _ := mapNotifierConfig(cfg)
	disp := notifier.NewDispatcher(mobile, browser, safari, ncfg.SendTimeout, log.With(logx.String("comp", "dispatch")), a.bus)
	resolver := notification.NewResolver(store, a.flags, log.With(logx.String("comp", "resolver")))
	a.notif = notifier.New(ncfg, resolver, disp, log.With(logx.String("comp", "notifier")), a.bus)

	bcfg, _ := mapBroadcastConfig(cfg)
	a.fanout = broadcast.New(bcfg, a.notif, store, log.With(logx.String("comp", "announcement")))
	a.notif.SetFanout(a.fanout)

	var mail *mailer.Mailer
	if mc := mapMailerConfig(cfg); mc.Region != "" {
		api, err := mailer.NewSESClient(ctx, mc.Region, mc.Endpoint)
		if err != nil {
			return fmt.Errorf("ses client: %w", err)
		}
		mail = mailer.New(api, mc, log.With(logx.String("comp", "mailer")))
	}
	dcfg, _, _, _ := mapDigestConfig(cfg)
	var opts []digest.Option
	if cache, err := a.renderCache(cfg); err != nil {
		return err
	} else if cache != nil {
		opts = append(opts, digest.WithRenderCache(cache))
	}
	a.digest = digest.New(dcfg, store, mail, a.flags, log.With(logx.String("comp", "digest")), a.bus, opts...)

	if ic := cfg.Ingest; ic != nil && ic.Enabled {
		icfg, _ := mapIngestConfig(ic)
		a.ingest = ingest.NewRedisStream(a.redis(ic.RedisAddr), icfg, a.notif, log.With(logx.String("comp", "ingest")), a.bus)
	}

	schedCfg, _ := mapSchedulerConfig(cfg)
	a.sched = scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), a.bus)
	if err := a.registerJobs(cfg); err != nil {
		return err
	}

	srvCfg, _ := mapServerConfig(cfg)
	a.http = server.New(srvCfg, a.health, log)
	return nil
}

// snsTransports builds the mobile and Safari transports. An empty push.region
// leaves both unset.
func (a *App) snsTransports(ctx context.Context, cfg *config.Config, log logx.Logger) (mobile, safari notifier.Transport, err error) {
	region := strings.TrimSpace(cfg.Push.Region)
	if region == "" {
		a.log.Warn("push.region not set; mobile and safari push disabled")
		return nil, nil, nil
	}
	api, err := push.NewSNSClient(ctx, region, strings.TrimSpace(cfg.Push.Endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("sns client: %w", err)
	}
	pc := push.SNSConfig{Sandbox: cfg.Push.Sandbox, RatePerSec: cfg.Push.RatePerSec}
	mobile = push.NewSNSMobile(api, a.store, a.store, pc, log.With(logx.String("comp", "push.mobile")))
	safari = push.NewSNSSafari(api, a.store, pc, log.With(logx.String("comp", "push.safari")))
	return mobile, safari, nil
}

func (a *App) renderCache(cfg *config.Config) (digest.RenderCache, error) {
	rc := cfg.RenderCache
	if rc == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(rc.Driver)) {
	case "redis":
		ttl, _ := config.ParseDurationField("render_cache.ttl", rc.TTL)
		return rendercache.NewRedis(a.redis(rc.RedisAddr), rc.Prefix, ttl), nil
	case "dir":
		c, err := rendercache.NewDir(rc.Dir)
		if err != nil {
			return nil, fmt.Errorf("render cache: %w", err)
		}
		return c, nil
	}
	return nil, nil
}

// redis returns one shared client per address.
func (a *App) redis(addr string) *redis.Client {
	addr = strings.TrimSpace(addr)
	if c, ok := a.rdbs[addr]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	a.rdbs[addr] = c
	return c
}

func (a *App) registerJobs(cfg *config.Config) error {
	for _, kind := range notifier.BufferKinds {
		kind := kind
		spec := drainSpecs(cfg)[kind]
		err := a.sched.Add("drain."+string(kind), spec, 0, func(ctx context.Context) error {
			_, err := a.notif.Drain(ctx, kind)
			return err
		})
		if err != nil {
			return err
		}
	}
	_, every, timeout, _ := mapDigestConfig(cfg)
	return a.sched.Add("digest", every, timeout, func(ctx context.Context) error {
		_, err := a.digest.Run(ctx)
		if errors.Is(err, digest.ErrBusy) || errors.Is(err, digest.ErrDisabled) {
			return nil
		}
		return err
	})
}

func (a *App) health(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)
	run := a.sup.Context()

	a.fanout.Start(run)
	if a.sched.Enabled() {
		a.sched.Start(run)
	}
	a.http.Start(run)
	if a.ingest != nil {
		a.sup.GoRestart("ingest", a.ingest.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("notifyd started", logx.Int("jobs", len(a.sched.Jobs())))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

// apply pushes the live-reloadable parts of next into running components.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.Strings("sections", pending))
	}
	if !reflect.DeepEqual(drainSpecs(prev), drainSpecs(next)) {
		a.log.Warn("drain cadence changed; restart required")
	}

	a.logs.Apply(mapLogConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if bcfg, err := mapBroadcastConfig(next); err == nil {
		a.fanout.Apply(bcfg)
	}
	if dcfg, every, _, err := mapDigestConfig(next); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	} else {
		a.digest.Apply(dcfg)
		if _, prevEvery, _, _ := mapDigestConfig(prev); prevEvery != every {
			a.log.Warn("digest cadence changed; restart required")
		}
	}

	if scfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		switch {
		case wasEnabled && !scfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
			a.log.Info("scheduler disabled via config")
		case !wasEnabled && scfg.Enabled:
			a.sched.Start(ctx)
			a.log.Info("scheduler enabled via config")
		}
	}

	if srv, err := mapServerConfig(next); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, srv)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop unwinds components in dependency order. Each step is bounded so one
// component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "announcement", 2*time.Second, func(c context.Context) error { a.fanout.Stop(c); return nil })
	// flush pending envelopes while transports are still up
	a.step(ctx, "notifier", 10*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "resources", time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func (a *App) closeResources() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	for addr, c := range a.rdbs {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis %s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}
