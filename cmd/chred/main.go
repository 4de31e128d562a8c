package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ctxhub/chre-runtime/internal/admin"
	"github.com/ctxhub/chre-runtime/internal/chre/chretime"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/host"
	"github.com/ctxhub/chre-runtime/internal/chre/loop"
	"github.com/ctxhub/chre-runtime/internal/chre/manager"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
	"github.com/ctxhub/chre-runtime/internal/chre/timer"
	"github.com/ctxhub/chre-runtime/internal/infrastructure/config"
	"github.com/ctxhub/chre-runtime/internal/infrastructure/monitoring"
	"github.com/ctxhub/chre-runtime/internal/logging"
	"github.com/ctxhub/chre-runtime/internal/manifest"
	"github.com/ctxhub/chre-runtime/internal/platform"
	"github.com/ctxhub/chre-runtime/nanoapps/echo"
	"github.com/ctxhub/chre-runtime/nanoapps/heartbeat"
)

func main() {
	manifestPath := flag.String("manifest", "", "Path to a nanoapp manifest YAML file (optional)")
	dev := flag.Bool("dev", false, "Enable development logging (console, debug level)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	log0, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	log0.Info("chre runtime starting", zap.String("host_socket", cfg.Host.SocketPath))

	metrics := monitoring.New()

	// el is assigned below, after hostClient and the timer pool; both the
	// host client's free-function invoker and the timer pool's fired-event
	// poster need to post into the event loop, so each closure captures
	// this variable itself rather than its (not yet known) value.
	var el *loop.EventLoop

	timerHW := platform.NewSystemTimerHardware()
	timers := timer.New(cfg.Loop.MaxNanoapps*4, chretime.SystemClock{}, timerHW, func(instanceID event.InstanceID, cookie any) {
		if el == nil {
			return
		}
		if err := el.PostEvent(event.TypeTimerFired, cookie, nil, event.SystemInstanceID, instanceID); err != nil {
			log0.Warn("timer: failed to post fired event", zap.Uint32("instance_id", uint32(instanceID)), zap.Error(err))
		}
		metrics.TimersFired.Inc()
	})
	timerHW.Bind(timers)

	loopMgr := manager.New(log0)

	hostClient := host.New(host.Config{
		SocketPath: cfg.Host.SocketPath,
		Policy: host.ReconnectPolicy{
			Initial:     time.Duration(cfg.Host.ReconnectInitialMs) * time.Millisecond,
			Max:         time.Duration(cfg.Host.ReconnectMaxMs) * time.Millisecond,
			MaxAttempts: cfg.Host.ReconnectMaxAttempts,
		},
		Logger:    log0,
		RateLimit: rate.NewLimiter(rate.Limit(cfg.Host.MessageRateLimit), cfg.Host.MessageRateLimit),
		OnEnvelope: func(env host.Envelope) {
			metrics.HostMessagesRx.WithLabelValues(tagName(env.Tag)).Inc()
			log0.Debug("host: received frame", zap.Uint32("tag", uint32(env.Tag)), zap.Int("bytes", len(env.Payload)))
		},
		Invoker: func(appID nanoapp.AppID, cb event.FreeCallback, t event.Type, payload any) {
			el.InvokeMessageFreeFunction(appID, cb, t, payload)
		},
		OnConnectionChange: func(connected bool) {
			if connected {
				metrics.HostConnected.Set(1)
				metrics.HostReconnects.Inc()
			} else {
				metrics.HostConnected.Set(0)
			}
		},
		OnSent: func(tag host.MessageTag) {
			metrics.HostMessagesTx.WithLabelValues(tagName(tag)).Inc()
		},
	})

	el, err = loopMgr.CreateEventLoop(cfg.Loop.EventPoolCapacity, cfg.Loop.InboundQueueCapacity, cfg.Loop.MaxNanoapps, hostClient, timers)
	if err != nil {
		log0.Fatal("failed to create event loop", zap.Error(err))
	}
	el.OnDrop(func(t event.Type) {
		metrics.EventsDropped.WithLabelValues(strconv.Itoa(int(t))).Inc()
	})
	el.OnPosted(func(t event.Type) {
		metrics.EventsPosted.WithLabelValues(senderKindLabel(t)).Inc()
	})
	el.OnDistributed(func(d time.Duration) {
		metrics.EventsDistributed.Inc()
		metrics.DistributeSeconds.Observe(d.Seconds())
	})
	el.OnDelivered(func(appID nanoapp.AppID, d time.Duration) {
		metrics.EventsDelivered.Inc()
		metrics.HandlerSeconds.WithLabelValues(strconv.FormatUint(uint64(appID), 10)).Observe(d.Seconds())
	})
	el.OnFreed(func() {
		metrics.EventsFreed.Inc()
	})
	el.OnUnload(func() {
		metrics.NanoappsUnloaded.Inc()
	})
	el.OnTimersCanceled(func(n int) {
		for i := 0; i < n; i++ {
			metrics.TimersCanceled.Inc()
		}
	})

	wifiHAL := platform.NewSimulatedWifiHAL()
	scanMonitor := manager.NewRequestManager(8, manager.WifiScanMonitorPlatform{HAL: wifiHAL}, func(instanceID event.InstanceID, success bool, cookie any) {
		log0.Debug("scan monitor: async result", zap.Uint32("instance_id", uint32(instanceID)), zap.Bool("success", success))
	}, log0)
	loopMgr.WithScanMonitor(scanMonitor)

	sensorHAL := platform.NewSimulatedSensorHAL()
	sensorMgr := manager.NewSensorRequestManager(1, 16, sensorHAL, metrics, log0)
	loopMgr.WithSensorManager(1, sensorMgr)

	dumps := &host.DebugDumpCoordinator{}

	startBuiltinNanoapps(el, timers, metrics, log0)
	if *manifestPath != "" {
		startManifestNanoapps(el, *manifestPath, metrics, log0)
	}

	adminSrv := admin.New(admin.Config{
		Addr:        cfg.Admin.Addr,
		CORSOrigins: cfg.Admin.CORSOrigins,
	}, el, metrics, dumps, log0)

	ctx, cancel := context.WithCancel(context.Background())

	go el.Run()
	go trackGauges(ctx, el, timers, scanMonitor, metrics)
	go func() {
		if err := hostClient.Run(ctx); err != nil {
			log0.Warn("host client stopped", zap.Error(err))
		}
	}()
	if cfg.Admin.Enabled {
		go func() {
			if err := adminSrv.Run(ctx); err != nil {
				log0.Warn("admin server stopped", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log0.Info("chre runtime shutting down")
	cancel()
	hostClient.Disconnect()
	el.Stop()
}

// startBuiltinNanoapps loads the two statically linked example nanoapps
// that ship with the runtime regardless of manifest.
func startBuiltinNanoapps(el *loop.EventLoop, timers *timer.Pool, metrics *monitoring.Metrics, log0 *logging.Logger) {
	hb := heartbeat.New(timerSetterAdapter{timers}, chretime.FromDuration(time.Second), log0)
	if _, err := el.StartNanoapp(0x0001, true, 16, hb.Start, hb.HandleEvent, hb.End); err != nil {
		log0.Warn("failed to start heartbeat nanoapp", zap.Error(err))
		metrics.NanoappStartFailures.Inc()
	} else {
		metrics.NanoappsStarted.Inc()
	}

	ec := echo.New(el, log0)
	if _, err := el.StartNanoapp(0x0002, false, 16, ec.Start, ec.HandleEvent, ec.End); err != nil {
		log0.Warn("failed to start echo nanoapp", zap.Error(err))
		metrics.NanoappStartFailures.Inc()
	} else {
		metrics.NanoappsStarted.Inc()
	}
}

// startManifestNanoapps loads every entry in a manifest file as a minimal
// nanoapp that subscribes to its declared event types and logs what it
// receives, standing in for a dynamic loader (out of scope).
func startManifestNanoapps(el *loop.EventLoop, path string, metrics *monitoring.Metrics, log0 *logging.Logger) {
	m, err := manifest.Load(path)
	if err != nil {
		log0.Error("failed to load nanoapp manifest", zap.String("path", path), zap.Error(err))
		return
	}
	for _, entry := range m.Nanoapps {
		entry := entry
		handler := func(sender event.InstanceID, t event.Type, payload any) {
			log0.Debug("manifest nanoapp: event received",
				zap.String("name", entry.Name), zap.Uint16("type", uint16(t)))
		}
		instanceID, err := el.StartNanoapp(entry.AppIDTyped(), entry.IsSystem, entry.InboxCapacity, nil, handler, nil)
		if err != nil {
			log0.Warn("failed to start manifest nanoapp", zap.String("name", entry.Name), zap.Error(err))
			metrics.NanoappStartFailures.Inc()
			continue
		}
		metrics.NanoappsStarted.Inc()
		n := el.FindByInstanceID(instanceID)
		if n == nil {
			continue
		}
		for _, t := range entry.SubscriptionTypes() {
			n.Subscribe(t)
		}
	}
}

// timerSetterAdapter converts timer.Pool.SetTimer's typed timer.ID return
// to the plain uint32 the nanoapp ABI's TimerSetter interface exposes, so
// nanoapps/heartbeat never has to import internal/chre/timer.
type timerSetterAdapter struct {
	pool *timer.Pool
}

func (a timerSetterAdapter) SetTimer(instanceID event.InstanceID, duration, interval chretime.Nanos, cookie any) (uint32, error) {
	id, err := a.pool.SetTimer(instanceID, duration, interval, cookie)
	return uint32(id), err
}

// trackGauges periodically refreshes the admin-facing gauges (nanoapp
// count, inbound queue depth, armed timer count, scan monitor transition
// queue depth) until ctx is canceled.
func trackGauges(ctx context.Context, el *loop.EventLoop, timers *timer.Pool, scanMonitor *manager.RequestManager, metrics *monitoring.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetNanoappsLoaded(el.NanoappCount())
			metrics.SetInboundQueueDepth(el.QueueDepth())
			metrics.SetTimersArmed(timers.Len())
			metrics.TransitionQueueDepth.WithLabelValues("wifi_scan_monitor").Set(float64(scanMonitor.QueueDepth()))
		}
	}
}

// senderKindLabel classifies a posted event's type as "system" or
// "nanoapp" for the events-posted counter, mirroring the reserved-range
// split event.Type documents.
func senderKindLabel(t event.Type) string {
	if t == event.TypeTimerFired {
		return "system"
	}
	return "nanoapp"
}

func tagName(tag host.MessageTag) string {
	switch tag {
	case host.TagNanoappMessage:
		return "nanoapp_message"
	case host.TagLogMessage:
		return "log_message"
	case host.TagDebugDumpData:
		return "debug_dump_data"
	default:
		return "other"
	}
}
