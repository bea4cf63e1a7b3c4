package chiller

import (
	"math/rand/v2"
	"time"

	"github.com/itohio/gochiller/pkg/frame"
)

// Controller behaviour mirrored by the simulation.
const (
	hysteresis         = 2.0
	valveLockout       = 30 * time.Second
	compressorLockout  = 60 * time.Second
	heatLoadPerSecond  = 0.02 // °C/s gained from the load
	coolingPerSecond   = 0.06 // °C/s removed while the compressor runs
	readingNoise       = 0.05 // °C
	levelSenseNominal  = 610
	levelRefNominal    = 820
	filterDPNominal    = 512
	fanRPMIdle         = 900
	fanRPMCooling      = 1800
	fanPWMIdle         = 40
	fanPWMCooling      = 100
	insideAmbient      = 31.0
	outsideAmbient     = 22.5
	humidityNominal    = 45.0
	initialOvershoot   = 5.0
	chassisNoiseFactor = 4
)

// simulator is a thermostat with hysteresis and relay lockouts driving a
// simple heat balance. Time is simulated, so a run is reproducible for a
// given seed.
type simulator struct {
	rng *rand.Rand

	now            time.Duration
	setpoint       float64
	temperature    float64
	compressor     bool
	valve          bool
	lastCompressor time.Duration
	lastValve      time.Duration
}

func newSimulator(setpoint float64, rng *rand.Rand) *simulator {
	return &simulator{
		rng:         rng,
		setpoint:    setpoint,
		temperature: setpoint + initialOvershoot,
	}
}

// step advances the simulation by dt and returns the reading the controller
// would send.
func (s *simulator) step(dt time.Duration) frame.Reading {
	s.now += dt

	s.temperature += heatLoadPerSecond * dt.Seconds()
	if s.compressor {
		s.temperature -= coolingPerSecond * dt.Seconds()
	}

	if s.temperature > s.setpoint+hysteresis {
		if !s.valve {
			s.valve = true
			s.lastValve = s.now
		}
		if !s.compressor && s.now-s.lastValve >= valveLockout && s.now-s.lastCompressor >= compressorLockout {
			s.compressor = true
			s.lastCompressor = s.now
		}
	}
	if s.temperature <= s.setpoint-hysteresis && s.compressor && s.now-s.lastCompressor >= compressorLockout {
		s.compressor = false
		s.valve = false
		s.lastCompressor = s.now
		s.lastValve = s.now
	}

	rpm, pwm := float32(fanRPMIdle), int8(fanPWMIdle)
	if s.compressor {
		rpm, pwm = fanRPMCooling, fanPWMCooling
	}

	var r frame.Reading
	r.Reservoir.Temperature = float32(s.temperature + s.noise(readingNoise))
	r.Reservoir.Setpoint = float32(s.setpoint)
	r.Reservoir.LevelSense = float32(levelSenseNominal + s.noise(2))
	r.Reservoir.LevelRef = float32(levelRefNominal + s.noise(2))
	r.Chassis.InsideTemperature = float32(insideAmbient + s.noise(readingNoise*chassisNoiseFactor))
	r.Chassis.OutsideTemperature = float32(outsideAmbient + s.noise(readingNoise*chassisNoiseFactor))
	r.Chassis.Humidity = float32(humidityNominal + s.noise(1))
	r.Chassis.FilterDP = int16(filterDPNominal + s.noise(3))
	r.Chassis.Fans.TopTach = rpm + float32(s.noise(15))
	r.Chassis.Fans.BottomTach = rpm + float32(s.noise(15))
	r.Chassis.Fans.PWM = pwm
	r.Compressor.Running = s.compressor
	r.Compressor.Valve = s.valve
	r.Compressor.CompressorTime = int32((s.now - s.lastCompressor).Milliseconds())
	r.Compressor.ValveTime = int32((s.now - s.lastValve).Milliseconds())
	r.Pump.Running = true
	r.Pump.FlowOK = true
	return r
}

// noise returns a uniform value in [-amp, amp).
func (s *simulator) noise(amp float64) float64 {
	return (s.rng.Float64()*2 - 1) * amp
}
