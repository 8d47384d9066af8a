package cli

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pacelink/pacelink-app/internal/archive"
	"github.com/pacelink/pacelink-app/internal/companion"
	"github.com/pacelink/pacelink-app/internal/go_func_utils"
	"github.com/pacelink/pacelink-app/internal/obs"
	"github.com/pacelink/pacelink-app/internal/output"
	"github.com/pacelink/pacelink-app/internal/sensor"
	"github.com/pacelink/pacelink-app/internal/session"
)

var (
	runListen  string
	runDial    string
	runRole    string
	runMetrics string
	runStart   bool
	runIndoor  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one device connected to its companion over TCP",
	Long: `run operates a single device. One side listens, the other dials; the
link is redialed automatically when it drops. Readings come from a
simulated sensor and completed workouts are archived locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun()
	},
}

func init() {
	runCmd.Flags().StringVar(&runListen, "listen", "", "Accept the companion connection on this address")
	runCmd.Flags().StringVar(&runDial, "dial", "", "Dial the companion at this address")
	runCmd.Flags().StringVar(&runRole, "role", "", "Device role, phone or watch (default from config)")
	runCmd.Flags().StringVar(&runMetrics, "metrics", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&runStart, "start", false, "Start a workout immediately")
	runCmd.Flags().BoolVar(&runIndoor, "indoor", false, "Track an indoor workout")
	rootCmd.AddCommand(runCmd)
}

func runRun() error {
	logger := cfg.NewLogger(verbose)

	listen := runListen
	dial := runDial
	if listen == "" && dial == "" {
		listen = cfg.ListenAddr
		dial = cfg.DialAddr
	}
	role := runRole
	if role == "" {
		role = cfg.Role
	}
	metricsAddr := runMetrics
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	var transport companion.Transport
	switch {
	case listen != "" && dial != "":
		return fmt.Errorf("--listen and --dial are mutually exclusive")
	case listen != "":
		t, err := companion.ListenTCP(logger, listen)
		if err != nil {
			return err
		}
		transport = t
		ui.Info("listening for companion on %s", listen)
	case dial != "":
		transport = companion.DialTCP(logger, dial)
		ui.Info("dialing companion at %s", dial)
	default:
		return fmt.Errorf("either --listen or --dial is required")
	}
	defer transport.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	stats := obs.NewMetrics(reg)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go_func_utils.SafeGo(logger, func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Printf("cli: metrics server: %v", err)
			}
		})
		ui.Info("serving metrics on %s/metrics", metricsAddr)
	}

	store, err := archive.NewStore(logger, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager := session.NewManager(logger, transport, session.Options{
		Role:     role,
		Params:   cfg.Session,
		Archiver: store,
		Stats:    stats,
	})
	defer manager.Shutdown()

	sim := sensor.NewSim(logger, sensor.SimParams{})
	sim.Start()
	defer sim.Stop()
	stopBridge := bridgeSensor(sim, manager)
	defer stopBridge()
	manager.SetLocalSignalQuality(!runIndoor)

	stateCh := make(chan session.StateChange, 8)
	unsubState := manager.ListenToState(stateCh)
	defer unsubState()
	offerCh := make(chan session.JoinOffer, 1)
	unsubOffers := manager.ListenToJoinOffers(offerCh)
	defer unsubOffers()
	reachCh := make(chan bool, 4)
	unsubReach := manager.ListenToReachability(reachCh)
	defer unsubReach()

	if runStart {
		mode := session.ModeOutdoor
		if runIndoor {
			mode = session.ModeIndoor
		}
		if err := manager.Start(mode); err != nil {
			return fmt.Errorf("start workout: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	status := time.NewTicker(10 * time.Second)
	defer status.Stop()

	ui.Info("%s running, ctrl-c to stop", role)
	for {
		select {
		case change := <-stateCh:
			ui.Info("%s -> %s (session %s)",
				output.StateColor(change.From.String()),
				output.StateColor(change.To.String()),
				change.Session.ID)
		case offer := <-offerCh:
			// Headless device: adopt the peer's session automatically.
			ui.Info("joining remote session %s at %s elapsed", offer.WorkoutID, fmtElapsed(offer.ElapsedSeconds))
			if err := manager.AcceptJoin(offer.OfferID); err != nil {
				ui.Warning("join failed: %v", err)
			}
		case up := <-reachCh:
			if up {
				ui.Success("companion reachable")
			} else {
				ui.Warning("companion unreachable")
			}
		case <-status.C:
			s := manager.Session()
			if s.State.Active() {
				ui.Info("%s  elapsed %s  distance %.0fm",
					output.StateColor(s.State.String()),
					fmtElapsed(manager.DisplayedElapsed()),
					s.Metrics.Get(session.MetricDistance))
			}
		case <-sigCh:
			ui.Info("shutting down")
			if s := manager.Session(); s.State.Active() {
				if err := manager.End(); err != nil {
					ui.Warning("ending workout: %v", err)
				}
			}
			return nil
		}
	}
}
