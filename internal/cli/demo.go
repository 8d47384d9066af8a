package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pacelink/pacelink-app/internal/archive"
	"github.com/pacelink/pacelink-app/internal/companion"
	"github.com/pacelink/pacelink-app/internal/go_func_utils"
	"github.com/pacelink/pacelink-app/internal/output"
	"github.com/pacelink/pacelink-app/internal/sensor"
	"github.com/pacelink/pacelink-app/internal/session"
)

var (
	demoDuration time.Duration
	demoIndoor   bool
	demoLatency  time.Duration
	demoDropRate float64
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run phone and watch in-process over a simulated link",
	Long: `demo wires a phone manager and a watch manager to the two ends of an
in-memory message channel. The watch starts a workout, the phone detects
it and joins, both sides feed simulated sensor readings, and at the end
the completed session is archived and summarized.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return demoRun()
	},
}

func init() {
	demoCmd.Flags().DurationVar(&demoDuration, "duration", 45*time.Second, "How long to track before ending the workout")
	demoCmd.Flags().BoolVar(&demoIndoor, "indoor", false, "Track an indoor workout")
	demoCmd.Flags().DurationVar(&demoLatency, "latency", 50*time.Millisecond, "Simulated one-way link latency")
	demoCmd.Flags().Float64Var(&demoDropRate, "drop", 0, "Simulated request drop rate (0..1)")
	rootCmd.AddCommand(demoCmd)
}

// bridgeSensor forwards provider readings into a manager until the returned
// stop function is called.
func bridgeSensor(p sensor.Provider, m *session.Manager) func() {
	ch := make(chan session.MetricData, 4)
	unsub := p.ListenToUpdates(ch)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case batch := <-ch:
				m.ApplyLocalMetrics(batch)
			}
		}
	}()
	return func() {
		unsub()
		close(done)
	}
}

func demoRun() error {
	logger := cfg.NewLogger(verbose)

	pair := companion.NewPair(logger)
	pair.SetLatency(demoLatency)
	pair.SetDropRate(demoDropRate)
	defer pair.Shutdown()
	phoneEnd, watchEnd := pair.Ends()

	store, err := archive.NewStore(logger, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	archived := make(chan string, 1)
	unsubSaves := store.ListenToSaves(func(workoutID string) {
		select {
		case archived <- workoutID:
		default:
		}
	})
	defer unsubSaves()

	phone := session.NewManager(logger, phoneEnd, session.Options{
		Role:     "phone",
		Params:   cfg.Session,
		Archiver: store,
	})
	defer phone.Shutdown()
	watch := session.NewManager(logger, watchEnd, session.Options{
		Role:   "watch",
		Params: cfg.Session,
	})
	defer watch.Shutdown()

	phoneSim := sensor.NewSim(logger, sensor.SimParams{Seed: 1})
	watchSim := sensor.NewSim(logger, sensor.SimParams{Seed: 2})
	phoneSim.Start()
	watchSim.Start()
	defer phoneSim.Stop()
	defer watchSim.Stop()
	stopPhoneBridge := bridgeSensor(phoneSim, phone)
	stopWatchBridge := bridgeSensor(watchSim, watch)
	defer stopPhoneBridge()
	defer stopWatchBridge()

	phone.SetLocalSignalQuality(!demoIndoor)

	stateCh := make(chan session.StateChange, 8)
	unsubState := phone.ListenToState(stateCh)
	defer unsubState()
	go_func_utils.SafeGo(logger, func() {
		for change := range stateCh {
			ui.Info("phone: %s -> %s (session %s)",
				output.StateColor(change.From.String()),
				output.StateColor(change.To.String()),
				change.Session.ID)
		}
	})

	offerCh := make(chan session.JoinOffer, 1)
	unsubOffers := phone.ListenToJoinOffers(offerCh)
	defer unsubOffers()

	mode := session.ModeOutdoor
	if demoIndoor {
		mode = session.ModeIndoor
	}
	ui.Info("watch starting %s workout", mode)
	if err := watch.Start(mode); err != nil {
		return fmt.Errorf("start workout on watch: %w", err)
	}

	select {
	case offer := <-offerCh:
		ui.Info("phone offered to join session %s (%s, %s elapsed)",
			offer.WorkoutID, output.StateColor(offer.State.String()), fmtElapsed(offer.ElapsedSeconds))
		if err := phone.AcceptJoin(offer.OfferID); err != nil {
			return fmt.Errorf("accept join: %w", err)
		}
		ui.Success("phone joined the workout")
	case <-time.After(3 * cfg.Session.SyncInterval):
		return fmt.Errorf("phone never received a join offer")
	}

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()
	deadline := time.After(demoDuration)

track:
	for {
		select {
		case <-statusTicker.C:
			s := phone.Session()
			ui.Info("elapsed %s  distance %.0fm  hr %.0fbpm  pace %.0fs/km",
				fmtElapsed(phone.DisplayedElapsed()),
				s.Metrics.Get(session.MetricDistance),
				s.Metrics.Get(session.MetricHeartRate),
				s.Metrics.Get(session.MetricPace))
		case <-deadline:
			break track
		}
	}

	ui.Info("watch ending workout")
	if err := watch.End(); err != nil {
		return fmt.Errorf("end workout on watch: %w", err)
	}

	select {
	case workoutID := <-archived:
		ui.Success("archived workout %s", workoutID)
	case <-time.After(3 * cfg.Session.SyncInterval):
		ui.Warning("workout was not archived in time")
	}

	final := phone.Session()
	ui.Success("workout %s: %s, %.0fm, %.0f kcal",
		output.StateColor(final.State.String()), fmtElapsed(final.ElapsedSeconds),
		final.Metrics.Get(session.MetricDistance), final.Metrics.Get(session.MetricCalories))

	records, err := store.ListCompleted(context.Background(), 5)
	if err != nil {
		return err
	}
	renderHistory(records)
	return nil
}
