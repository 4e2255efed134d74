package sensor_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/particlectl/internal/errors"
	"codeberg.org/mutker/particlectl/internal/reading"
	"codeberg.org/mutker/particlectl/internal/sds011"
	"codeberg.org/mutker/particlectl/internal/sensor"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFactory = errors.New()

type sampleStep struct {
	sample sds011.Sample
	err    error
}

// fakeDriver scripts ReadSample results; once the script is exhausted
// every further read times out.
type fakeDriver struct {
	mu        sync.Mutex
	failOpens int // fail this many Open calls; -1 fails forever
	opens     int
	wakes     int
	sleeps    int
	closes    int
	reads     int
	script    []sampleStep
	next      int
}

func (d *fakeDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.failOpens == -1 || d.opens <= d.failOpens {
		return errFactory.New(sds011.ErrDeviceUnavailable)
	}
	return nil
}

func (d *fakeDriver) Wake() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wakes++
	return nil
}

func (d *fakeDriver) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sleeps++
	return nil
}

func (d *fakeDriver) ReadSample() (sds011.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.next < len(d.script) {
		step := d.script[d.next]
		d.next++
		return step.sample, step.err
	}
	return sds011.Sample{}, errFactory.New(sds011.ErrReadTimeout)
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDriver) counts() (opens, sleeps, closes, reads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.sleeps, d.closes, d.reads
}

type fakeExporter struct {
	mu     sync.Mutex
	writes []reading.Reading
}

func (e *fakeExporter) Write(r reading.Reading) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes = append(e.writes, r)
	return nil
}

func (e *fakeExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.writes)
}

func (e *fakeExporter) last() reading.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes[len(e.writes)-1]
}

func goodSamples(n int) []sampleStep {
	steps := make([]sampleStep, 0, n)
	for i := 1; i <= n; i++ {
		steps = append(steps, sampleStep{
			sample: sds011.Sample{PM25: float64(i), PM100: float64(i) * 2},
		})
	}
	return steps
}

func fastConfig() sensor.Config {
	return sensor.Config{
		ReadPeriod:      100 * time.Millisecond,
		SleepPeriod:     10 * time.Second,
		SampleInterval:  time.Millisecond,
		WakeRetry:       time.Millisecond,
		DegradedRetry:   5 * time.Millisecond,
		MaxWakeFailures: 3,
	}
}

func TestAcquisitionCycle(t *testing.T) {
	driver := &fakeDriver{script: goodSamples(5)}
	cache := reading.NewCache()
	exporter := &fakeExporter{}

	controller := sensor.New(fastConfig(), driver, cache, exporter, clock.New())
	require.NoError(t, controller.Start())
	defer controller.Stop()

	// Wait for the sampling phase to finish: the sleep command marks
	// the Sampling -> Sleeping transition.
	require.Eventually(t, func() bool {
		_, sleeps, _, _ := driver.counts()
		return sleeps >= 1
	}, 2*time.Second, time.Millisecond)

	got, ok := cache.Get()
	require.True(t, ok)
	assert.Equal(t, 5.0, got.PM25, "cache must hold the last valid sample")
	assert.Equal(t, 10.0, got.PM100)

	require.Equal(t, 1, exporter.count(), "one export per completed read period")
	assert.Equal(t, got, exporter.last(), "export must reflect the cached reading")

	// The cache stays untouched through the entire sleeping phase.
	time.Sleep(20 * time.Millisecond)
	still, ok := cache.Get()
	require.True(t, ok)
	assert.Equal(t, got, still)
}

func TestFailedReadsKeepLastReading(t *testing.T) {
	driver := &fakeDriver{script: goodSamples(1)}
	cache := reading.NewCache()

	cfg := fastConfig()
	cfg.ReadPeriod = 10 * time.Second // stay in the sampling phase

	controller := sensor.New(cfg, driver, cache, nil, clock.New())
	require.NoError(t, controller.Start())
	defer controller.Stop()

	require.Eventually(t, func() bool {
		_, ok := cache.Get()
		return ok
	}, 2*time.Second, time.Millisecond)

	got, _ := cache.Get()

	// Let a batch of timeouts pass; the cached reading must survive.
	require.Eventually(t, func() bool {
		_, _, _, reads := driver.counts()
		return reads >= 10
	}, 2*time.Second, time.Millisecond)

	still, ok := cache.Get()
	require.True(t, ok)
	assert.Equal(t, got, still, "read failures must not clear the cache")
}

func TestOutOfRangeSamplesNeverPublished(t *testing.T) {
	driver := &fakeDriver{script: []sampleStep{
		{sample: sds011.Sample{PM25: -0.1, PM100: 5}},
		{sample: sds011.Sample{PM25: 2000, PM100: 5}},
		{sample: sds011.Sample{PM25: 5, PM100: -3}},
	}}
	cache := reading.NewCache()
	exporter := &fakeExporter{}

	controller := sensor.New(fastConfig(), driver, cache, exporter, clock.New())
	require.NoError(t, controller.Start())
	defer controller.Stop()

	require.Eventually(t, func() bool {
		_, sleeps, _, _ := driver.counts()
		return sleeps >= 1
	}, 2*time.Second, time.Millisecond)

	_, ok := cache.Get()
	assert.False(t, ok, "out-of-range samples must never reach the cache")
	assert.Zero(t, exporter.count(), "nothing to export without a reading")
}

func TestOpenFailuresNeverFatal(t *testing.T) {
	driver := &fakeDriver{failOpens: -1}
	cache := reading.NewCache()

	cfg := fastConfig()
	cfg.DegradedRetry = time.Millisecond

	controller := sensor.New(cfg, driver, cache, nil, clock.New())
	require.NoError(t, controller.Start())

	require.Eventually(t, func() bool {
		opens, _, _, _ := driver.counts()
		return opens >= 10
	}, 2*time.Second, time.Millisecond, "controller must keep retrying in degraded state")

	controller.Stop()

	_, _, closes, _ := driver.counts()
	assert.Equal(t, 1, closes, "device released on stop")
}

func TestRecoversAfterTransientOpenFailures(t *testing.T) {
	driver := &fakeDriver{failOpens: 4, script: goodSamples(1)}
	cache := reading.NewCache()

	controller := sensor.New(fastConfig(), driver, cache, nil, clock.New())
	require.NoError(t, controller.Start())
	defer controller.Stop()

	require.Eventually(t, func() bool {
		_, ok := cache.Get()
		return ok
	}, 2*time.Second, time.Millisecond, "controller must recover once the device comes back")
}

func TestStopReleasesDevice(t *testing.T) {
	driver := &fakeDriver{}
	cache := reading.NewCache()

	cfg := fastConfig()
	cfg.ReadPeriod = 10 * time.Second

	controller := sensor.New(cfg, driver, cache, nil, clock.New())
	require.NoError(t, controller.Start())

	require.Eventually(t, func() bool {
		_, _, _, reads := driver.counts()
		return reads >= 1
	}, 2*time.Second, time.Millisecond)

	controller.Stop()

	_, sleeps, closes, _ := driver.counts()
	assert.Equal(t, 1, closes)
	assert.GreaterOrEqual(t, sleeps, 1, "fan turned off on shutdown")
}

func TestStartValidatesConfig(t *testing.T) {
	controller := sensor.New(sensor.Config{}, &fakeDriver{}, reading.NewCache(), nil, clock.New())

	err := controller.Start()
	require.Error(t, err)
	assert.Equal(t, sensor.ErrInvalidConfig, errors.CodeOf(err))
}

// The production timing scenario on a simulated clock: 60s read period,
// 2s sample interval, 5 valid samples then timeouts, 60s sleep.
func TestDutyCycleSimulatedTime(t *testing.T) {
	mock := clock.NewMock()
	driver := &fakeDriver{script: goodSamples(5)}
	cache := reading.NewCache()
	exporter := &fakeExporter{}

	controller := sensor.New(sensor.Config{
		ReadPeriod:      60 * time.Second,
		SleepPeriod:     60 * time.Second,
		SampleInterval:  2 * time.Second,
		WakeRetry:       3 * time.Second,
		DegradedRetry:   30 * time.Second,
		MaxWakeFailures: 5,
	}, driver, cache, exporter, mock)
	require.NoError(t, controller.Start())
	defer controller.Stop()

	// Step simulated time until the read period elapses and the
	// snapshot is exported.
	require.Eventually(t, func() bool {
		mock.Add(2 * time.Second)
		return exporter.count() >= 1
	}, 5*time.Second, time.Millisecond)

	got, ok := cache.Get()
	require.True(t, ok)
	assert.Equal(t, 5.0, got.PM25)
	assert.Equal(t, 10.0, got.PM100)
	assert.Equal(t, got, exporter.last())

	// 60 simulated seconds of sleeping leave the reading unchanged.
	for i := 0; i < 6; i++ {
		mock.Add(10 * time.Second)
		still, ok := cache.Get()
		require.True(t, ok)
		assert.Equal(t, got, still)
	}
}
