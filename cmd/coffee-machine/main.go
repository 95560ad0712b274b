// Command coffee-machine runs the coffee machine simulator and serves it to
// websocket observers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/clock"
	"github.com/sweeney/coffee-machine/internal/codec"
	"github.com/sweeney/coffee-machine/internal/config"
	"github.com/sweeney/coffee-machine/internal/discovery"
	"github.com/sweeney/coffee-machine/internal/gpio"
	"github.com/sweeney/coffee-machine/internal/history"
	"github.com/sweeney/coffee-machine/internal/logging"
	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/metrics"
	"github.com/sweeney/coffee-machine/internal/mqtt"
	"github.com/sweeney/coffee-machine/internal/panel"
	"github.com/sweeney/coffee-machine/internal/sim"
	"github.com/sweeney/coffee-machine/internal/status"
	"github.com/sweeney/coffee-machine/internal/store"
	"github.com/sweeney/coffee-machine/internal/watchdog"
	"github.com/sweeney/coffee-machine/internal/web"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flags holds command-line overrides. Only flags the user set are applied.
type flags struct {
	configPath string
	httpAddr   string
	dbPath     string
	broker     string
	tickMs     int
	logLevel   string
	logFormat  string
	gpio       bool
	mdns       bool
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:          "coffee-machine",
		Short:        "Simulated coffee machine with websocket observers",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			if err != nil {
				return err
			}
			return run(cfg, log)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "config file (.yaml, .json or .toml)")
	pf.StringVar(&f.dbPath, "db", "", `SQLite database path (":memory:" for no persistence)`)
	root.Flags().StringVar(&f.httpAddr, "http", "", "HTTP listen address")
	root.Flags().StringVar(&f.broker, "broker", "", `MQTT broker address ("" disables)`)
	root.Flags().IntVar(&f.tickMs, "tick", 0, "length of a simulated second in milliseconds")
	root.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	root.Flags().StringVar(&f.logFormat, "log-format", "", "console or json")
	root.Flags().BoolVar(&f.gpio, "gpio", false, "read the reservoir seat switches")
	root.Flags().BoolVar(&f.mdns, "mdns", false, "advertise the service over mDNS")

	root.AddCommand(newStateCmd(&f))
	return root
}

// newStateCmd prints the persisted machine status and exits.
func newStateCmd(f *flags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted machine status and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *f)
			if err != nil {
				return err
			}
			c, err := codec.ByName(format)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return printState(cmd.Context(), cmd.OutOrStdout(), st, c)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output codec")
	return cmd
}

func printState(ctx context.Context, w io.Writer, st store.Store, c codec.Codec) error {
	snap, ok, err := st.LoadStatus(ctx)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	if !ok {
		_, err := fmt.Fprintln(w, "no persisted status")
		return err
	}
	data, err := c.Encode(broadcast.StatusMessage(snap))
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// loadConfig reads the config file, if any, then applies flag overrides.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	cfg = cfg.WithDefaults()

	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("http") {
		cfg.HTTPAddr = f.httpAddr
	}
	if changed("db") {
		cfg.DBPath = f.dbPath
	}
	if changed("broker") {
		cfg.MQTTBroker = f.broker
	}
	if changed("tick") {
		cfg.TickMs = f.tickMs
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("gpio") {
		cfg.GPIOEnabled = f.gpio
	}
	if changed("mdns") {
		cfg.MDNSEnabled = f.mdns
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DBPath == ":memory:" {
		return store.NewMemory(cfg.StatusHistoryKeep), nil
	}
	st, err := store.OpenSQLite(cfg.DBPath, cfg.StatusHistoryKeep)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// restoredSnapshot turns a persisted snapshot into a resting one: no task
// survives a restart, so mid-task steps become waiting with no flow.
func restoredSnapshot(s machine.Snapshot) machine.Snapshot {
	switch s.Step {
	case machine.StepWaterEmpty, machine.StepGroundsFull:
	default:
		s.Step = machine.StepWaiting
	}
	s.WaterFlow = 0
	return s
}

type touchFunc func()

func (f touchFunc) Touch() { f() }

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	initial := machine.Default()
	if snap, ok, err := st.LoadStatus(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load persisted status, starting cold")
	} else if ok {
		initial = restoredSnapshot(snap)
		log.Info().Str("step", string(initial.Step)).Float64("temperature", initial.Temperature).Msg("restored status")
	}
	state := machine.NewState(initial)

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:         cfg.TickMs,
		StandbyAfterS:  cfg.StandbyAfterS,
		CoolDownAfterS: cfg.CoolDownAfterS,
		HeartbeatS:     cfg.HeartbeatS,
		Broker:         cfg.MQTTBroker,
		HTTPAddr:       cfg.HTTPAddr,
		DBPath:         cfg.DBPath,
		Codecs:         codec.Names(),
		GPIO:           cfg.GPIOEnabled,
	}, time.Now)
	tracker.PublishStatus(initial)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := broadcast.New(log)
	hub.OnChange(func(n int) {
		m.SetObservers(n)
		tracker.SetObservers(n)
	})

	hist := history.New(st, hub, history.Config{Limit: cfg.HistoryLimit, Logger: log})

	// Initialize MQTT
	var (
		mqttPub  *mqtt.RealPublisher
		statusTo = sim.Publishers{hub, tracker}
	)
	if cfg.MQTTBroker != "" {
		mqttPub, err = mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTTBroker,
			ClientID:           cfg.MQTTClientID,
			OnConnectionChange: tracker.SetMQTTConnected,
			Logger:             log,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer mqttPub.Close()
		tracker.SetMQTTConnected(mqttPub.IsConnected())
		statusTo = append(statusTo, mqtt.NewMirror(mqttPub, log))
	}

	clk := clock.NewReal(cfg.Tick())
	defer clk.Stop()

	var wd *watchdog.Watchdog
	activity := touchFunc(func() { wd.Touch() })

	sup := sim.New(sim.Config{
		State:     state,
		Clock:     clk,
		Publisher: statusTo,
		Store:     st,
		Activity:  activity,
		Recorder:  m,
		OnFinish:  hist.RecordBrew,
		Logger:    log,
	})
	wd = watchdog.New(sup, watchdog.Config{
		Period: cfg.WatchdogPeriod(),
		Soft:   cfg.StandbyAfter(),
		Hard:   cfg.CoolDownAfter(),
		Logger: log,
	})
	go wd.Run(ctx, nil)

	// Publish startup event with full status snapshot
	if mqttPub != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := mqttPub.PublishSystem(startup); err != nil {
			log.Warn().Err(err).Msg("failed to publish startup event")
		} else {
			log.Info().Msg("published startup event")
		}
	}

	var pnl *panel.Panel
	if cfg.GPIOEnabled {
		reader, err := gpio.NewRealReader(gpio.Pins{Chip: cfg.GPIOChip, Water: cfg.PinWater, Ground: cfg.PinGrounds})
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		pcfg := panel.Config{
			Debounce: time.Duration(cfg.DebounceMs) * time.Millisecond,
			Logger:   log,
		}
		if mqttPub != nil {
			pcfg.OnEvent = seatEventPublisher(mqttPub, log)
		}
		pnl = panel.New(reader, sup, pcfg)
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	srv := web.New(web.Config{
		Tracker:       tracker,
		Machine:       sup,
		Hub:           hub,
		History:       hist,
		StatusHistory: st,
		Activity:      activity,
		Metrics:       m,
		Gatherer:      reg,
		DefaultCodec:  cfg.DefaultCodec,
		QueueLength:   cfg.ObserverQueueLength,
		Logger:        log,
	})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	if cfg.MDNSEnabled {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise(discovery.Info{
			Instance: cfg.MDNSInstance,
			Port:     port,
			Path:     "/ws",
			Codecs:   codec.Names(),
			Version:  version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("mdns advertisement failed")
		} else {
			defer adv.Shutdown()
			log.Info().Str("instance", cfg.MDNSInstance).Int("port", port).Msg("advertising over mdns")
		}
	}

	log.Info().
		Int("tick_ms", cfg.TickMs).
		Int("standby_after_s", cfg.StandbyAfterS).
		Int("cooldown_after_s", cfg.CoolDownAfterS).
		Str("broker", cfg.MQTTBroker).
		Bool("gpio", cfg.GPIOEnabled).
		Msg("started")

	idle := time.NewTicker(cfg.IdleRebroadcast())
	defer idle.Stop()
	var pollC, heartbeatC <-chan time.Time
	if pnl != nil {
		t := time.NewTicker(time.Duration(cfg.PollMs) * time.Millisecond)
		defer t.Stop()
		pollC = t.C
	}
	if mqttPub != nil && cfg.Heartbeat() > 0 {
		t := time.NewTicker(cfg.Heartbeat())
		defer t.Stop()
		heartbeatC = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		machine: sup,
		panel:   pnl,
		tracker: tracker,
		now:     time.Now,
		log:     log,
	}
	if mqttPub != nil {
		l.pub = mqttPub
		l.conn = mqttPub
	}
	l.run(pollC, idle.C, heartbeatC, sigCh)

	grace, cancelGrace := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancelGrace()
	if err := srv.Shutdown(grace); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := sup.Shutdown(grace); err != nil {
		log.Warn().Err(err).Msg("task did not stop in time")
	}
	cancel()
	log.Info().Msg("stopped")
	return nil
}

// seatEventPublisher forwards seat-switch transitions to MQTT.
func seatEventPublisher(pub mqtt.Publisher, log zerolog.Logger) func(panel.Event) {
	return func(e panel.Event) {
		err := pub.PublishSystem(mqtt.SystemEvent{
			Timestamp: e.Timestamp,
			Event:     string(e.Type),
		})
		if err != nil {
			log.Warn().Err(err).Str("event", string(e.Type)).Msg("publish seat event")
		}
	}
}

// rebroadcaster republishes the idle snapshot.
type rebroadcaster interface {
	Rebroadcast()
}

// loop is the daemon's main select loop. panel, pub and conn may be nil.
type loop struct {
	machine rebroadcaster
	panel   *panel.Panel
	pub     mqtt.Publisher
	conn    mqtt.ConnectionStatus
	tracker *status.Tracker
	now     func() time.Time
	log     zerolog.Logger
}

// run serves ticks until a signal arrives, publishes SHUTDOWN and returns
// the signal name. A nil channel disables its concern.
func (l *loop) run(poll, idle, heartbeat <-chan time.Time, sig <-chan os.Signal) string {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			l.log.Info().Str("signal", name).Msg("shutting down")
			l.publishSystem("SHUTDOWN", name, true)
			return name

		case <-poll:
			l.panel.Poll()
			tank, drawer := l.panel.State()
			l.tracker.SetPanel(status.Panel{
				Baselined:    l.panel.Baselined(),
				TankSeated:   tank,
				DrawerSeated: drawer,
				Counts:       l.panel.Counts(),
			})

		case <-idle:
			l.machine.Rebroadcast()
			l.refreshConnection()

		case <-heartbeat:
			l.log.Debug().Dur("uptime", l.tracker.Snapshot().Uptime()).Msg("heartbeat")
			l.publishSystem("HEARTBEAT", "", false)
		}
	}
}

func (l *loop) refreshConnection() {
	if l.conn != nil {
		l.tracker.SetMQTTConnected(l.conn.IsConnected())
	}
}

// publishSystem sends a lifecycle event carrying the full status.
func (l *loop) publishSystem(event, reason string, retained bool) {
	if l.pub == nil {
		return
	}
	l.refreshConnection()
	snap := l.tracker.Snapshot()
	err := l.pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		l.log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	l.log.Info().Str("event", event).Msg("published system event")
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	if sig, ok := s.(syscall.Signal); ok {
		return "SIGNAL_" + strconv.Itoa(int(sig))
	}
	return "UNKNOWN"
}
