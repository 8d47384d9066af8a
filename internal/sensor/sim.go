package sensor

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pacelink/pacelink-app/internal/events"
	"github.com/pacelink/pacelink-app/internal/go_func_utils"
	"github.com/pacelink/pacelink-app/internal/session"
)

// Simulated runner model constants.
const (
	basePaceSecPerKm = 330.0 // ~5:30 min/km
	paceSwing        = 25.0  // sinusoidal pace variation amplitude
	paceSwingPeriod  = 90.0  // seconds per oscillation
	restingHeartRate = 62.0
	targetHeartRate  = 152.0
	heartRateTau     = 45.0 // seconds to close ~63% of the gap to target
	baseCadence      = 168.0
	caloriesPerSec   = 0.18
)

// SimParams tunes the simulated runner.
type SimParams struct {
	Interval time.Duration
	Seed     int64
}

// Sim is a simulated runner used by the demo and by tests. It integrates a
// simple pace model into cumulative distance, steps and calories, and eases
// heart rate toward a steady-state target.
type Sim struct {
	logger *log.Logger
	params SimParams
	rng    *rand.Rand

	mu        sync.Mutex
	running   bool
	stopped   bool
	stopCh    chan struct{}
	elapsed   float64
	distance  float64
	steps     float64
	calories  float64
	heartRate float64
	pace      float64
	cadence   float64

	updateEvent *events.ChannelEvent[session.MetricData]
}

// NewSim creates a simulated provider.
func NewSim(logger *log.Logger, params SimParams) *Sim {
	if logger == nil {
		panic("Sim: logger cannot be nil")
	}
	if params.Interval == 0 {
		params.Interval = time.Second
	}
	if params.Seed == 0 {
		params.Seed = time.Now().UnixNano()
	}
	return &Sim{
		logger:      logger,
		params:      params,
		rng:         rand.New(rand.NewSource(params.Seed)),
		stopCh:      make(chan struct{}),
		heartRate:   restingHeartRate,
		pace:        basePaceSecPerKm,
		cadence:     baseCadence,
		updateEvent: events.NewChannelEvent[session.MetricData](true),
	}
}

// Start begins the reading loop.
func (s *Sim) Start() {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go_func_utils.SafeGo(s.logger, s.loop)
}

// Stop halts the reading loop.
func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// CurrentMetrics returns the latest cumulative readings.
func (s *Sim) CurrentMetrics() session.MetricData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ListenToUpdates registers a channel for fresh reading batches.
func (s *Sim) ListenToUpdates(ch chan<- session.MetricData) func() {
	return s.updateEvent.Listen(ch)
}

func (s *Sim) snapshot() session.MetricData {
	return session.MetricData{
		session.MetricDistance:  s.distance,
		session.MetricPace:      s.pace,
		session.MetricHeartRate: s.heartRate,
		session.MetricCalories:  s.calories,
		session.MetricCadence:   s.cadence,
		session.MetricStepCount: math.Floor(s.steps),
	}
}

func (s *Sim) loop() {
	ticker := time.NewTicker(s.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.step(s.params.Interval.Seconds())
			batch := s.snapshot()
			s.mu.Unlock()
			s.updateEvent.Notify(batch)
		}
	}
}

// step advances the model by dt seconds.
func (s *Sim) step(dt float64) {
	s.elapsed += dt

	s.pace = basePaceSecPerKm +
		paceSwing*math.Sin(2*math.Pi*s.elapsed/paceSwingPeriod) +
		s.rng.Float64()*4 - 2
	speed := 1000.0 / s.pace // m/s
	s.distance += speed * dt

	// First-order approach to the steady-state heart rate.
	s.heartRate += (targetHeartRate - s.heartRate) * dt / heartRateTau
	s.heartRate += s.rng.Float64()*2 - 1

	s.cadence = baseCadence + s.rng.Float64()*6 - 3
	s.steps += s.cadence / 60.0 * dt
	s.calories += caloriesPerSec * dt
}
