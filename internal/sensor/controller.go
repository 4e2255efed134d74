// Package sensor runs the duty-cycle acquisition loop: wake the
// sensor, sample it for a read period, publish valid readings to the
// shared cache, export a snapshot and sleep the sensor to spare the
// fan. The controller is the only code that touches the device.
package sensor

import (
	"sync"
	"time"

	"codeberg.org/mutker/particlectl/internal/logger"
	"codeberg.org/mutker/particlectl/internal/reading"
	"codeberg.org/mutker/particlectl/internal/sds011"
	"github.com/benbjohnson/clock"
)

// maxPM is the sanity ceiling for published values in µg/m³. The
// sensor registers top out at 999.9, so anything beyond is a corrupt
// frame that slipped past the checksum.
const maxPM = 1000

// Driver is the device contract the controller drives. Satisfied by
// *sds011.Device.
type Driver interface {
	Open() error
	Wake() error
	Sleep() error
	ReadSample() (sds011.Sample, error)
	Close() error
}

// Exporter persists a reading at the end of each sampling phase.
type Exporter interface {
	Write(reading.Reading) error
}

type cycleState int

const (
	stateWaking cycleState = iota
	stateSampling
	stateSleeping
)

func (s cycleState) String() string {
	switch s {
	case stateWaking:
		return "waking"
	case stateSampling:
		return "sampling"
	case stateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Controller owns the device and the duty-cycle state machine. It runs
// on its own goroutine between Start and Stop; the shared cache is its
// only output.
type Controller struct {
	cfg      Config
	driver   Driver
	cache    *reading.Cache
	exporter Exporter
	clk      clock.Clock

	wakeFailures int
	offline      bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New assembles a controller. A nil clk selects the wall clock.
func New(cfg Config, driver Driver, cache *reading.Cache, exporter Exporter, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.New()
	}

	return &Controller{
		cfg:      cfg,
		driver:   driver,
		cache:    cache,
		exporter: exporter,
		clk:      clk,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start validates the configuration and launches the acquisition loop.
func (c *Controller) Start() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	go c.run()

	return nil
}

// Stop signals shutdown and returns once the loop has exited and the
// device is released. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

func (c *Controller) run() {
	defer close(c.done)
	defer c.shutdown()

	state := stateWaking
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		next := state
		switch state {
		case stateWaking:
			next = c.wake()
		case stateSampling:
			next = c.sample()
		case stateSleeping:
			next = c.sleepCycle()
		}

		if next != state {
			logger.Debug().Str("from", state.String()).Str("to", next.String()).Msg("State transition")
			state = next
		}
	}
}

// wake opens the device if needed and turns the fan on. A failure
// backs off and leaves the state machine in Waking; after
// MaxWakeFailures consecutive failures the backoff degrades to the
// slower offline interval, forever. Never fatal.
func (c *Controller) wake() cycleState {
	if err := c.driver.Open(); err != nil {
		c.failWake(err)
		return stateWaking
	}

	if err := c.driver.Wake(); err != nil {
		c.failWake(err)
		return stateWaking
	}

	if c.offline {
		logger.Info().Msg("Sensor back online")
	}
	c.wakeFailures = 0
	c.offline = false

	logger.Info().Dur("read_period", c.cfg.ReadPeriod).Msg("Sensor awake, sampling")

	return stateSampling
}

func (c *Controller) failWake(err error) {
	c.wakeFailures++
	backoff := c.cfg.WakeRetry

	if c.wakeFailures >= c.cfg.MaxWakeFailures {
		backoff = c.cfg.DegradedRetry
		if !c.offline {
			c.offline = true
			logger.Error().Err(err).
				Int("failures", c.wakeFailures).
				Dur("retry", backoff).
				Msg("Sensor offline, degrading retry interval")
		}
	} else {
		logger.Warn().Err(err).Int("failures", c.wakeFailures).Msg("Failed to wake sensor")
	}

	c.wait(backoff)
}

// sample polls the device until the read-period deadline. Valid samples
// replace the cached reading; timeouts, bad frames and out-of-range
// values are skipped without touching the cache.
func (c *Controller) sample() cycleState {
	deadline := c.clk.Now().Add(c.cfg.ReadPeriod)
	published := 0

	for c.clk.Now().Before(deadline) {
		s, err := c.driver.ReadSample()
		switch {
		case err != nil:
			if c.cfg.LogRaw {
				logger.Debug().Err(err).Msg("Sample read failed")
			}
		case c.publish(s):
			published++
		}

		if !c.wait(c.cfg.SampleInterval) {
			return stateSampling
		}
	}

	if published == 0 {
		logger.Warn().Msg("No valid samples collected during reading period")
	}

	c.export()

	return stateSleeping
}

// publish validates a sample and swaps it into the cache. Out-of-range
// values are treated like bad frames and discarded.
func (c *Controller) publish(s sds011.Sample) bool {
	if s.PM25 < 0 || s.PM100 < 0 || s.PM25 >= maxPM || s.PM100 >= maxPM {
		if c.cfg.LogRaw {
			logger.Debug().
				Float64("pm2_5", s.PM25).
				Float64("pm10_0", s.PM100).
				Msg("Discarding out-of-range sample")
		}
		return false
	}

	r := reading.Reading{
		Timestamp: c.clk.Now().Unix(),
		PM25:      s.PM25,
		PM100:     s.PM100,
	}
	c.cache.Publish(r)

	if c.cfg.LogRaw {
		logger.Debug().Float64("pm2_5", r.PM25).Float64("pm10_0", r.PM100).Msg("Sample")
	}

	return true
}

// export writes the current cached reading, if any. Export failures
// are logged and retried next cycle.
func (c *Controller) export() {
	if c.exporter == nil {
		return
	}

	r, ok := c.cache.Get()
	if !ok {
		return
	}

	if err := c.exporter.Write(r); err != nil {
		logger.Error().Err(err).Msg("Failed to export snapshot")
	}
}

// sleepCycle turns the fan off and idles for the sleep period. The
// cache keeps the last reading from the sampling phase untouched.
func (c *Controller) sleepCycle() cycleState {
	if err := c.driver.Sleep(); err != nil {
		logger.Warn().Err(err).Msg("Failed to sleep sensor")
	} else {
		logger.Info().Dur("sleep_period", c.cfg.SleepPeriod).Msg("Sensor sleeping")
	}

	c.wait(c.cfg.SleepPeriod)

	return stateWaking
}

// wait blocks for d or until shutdown. Returns false when stopping.
func (c *Controller) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.stop:
			return false
		default:
			return true
		}
	}

	t := c.clk.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Controller) shutdown() {
	if err := c.driver.Sleep(); err != nil {
		logger.Debug().Err(err).Msg("Could not sleep sensor on shutdown")
	}

	if err := c.driver.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close device")
	}

	logger.Info().Msg("Sensor loop stopped")
}
