package bus

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/san-kum/knobsuite/internal/fault"
)

// PCA9685 registers.
const (
	regMode1    = 0x00
	regPrescale = 0xFE
	regLED0     = 0x06

	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode1Restart = 0x80

	oscillatorHz = 25_000_000
	pwmSteps     = 4096
)

type I2CConfig struct {
	// Bus name as understood by i2creg; empty picks the first bus.
	Bus       string  `yaml:"bus"`
	ADCAddr   uint16  `yaml:"adc_addr"`
	ServoAddr uint16  `yaml:"servo_addr"`
	PWMFreqHz float64 `yaml:"pwm_freq_hz"`

	// ADCControl maps a knob channel to the PCF8591 control byte selecting
	// its analog input.
	ADCControl []byte `yaml:"adc_control"`

	// A command of 0 maps to MinPulse and a command of Swing to MaxPulse.
	MinPulse time.Duration `yaml:"min_pulse"`
	MaxPulse time.Duration `yaml:"max_pulse"`
	Swing    float64       `yaml:"swing"`
}

func DefaultI2CConfig() I2CConfig {
	return I2CConfig{
		ADCAddr:    0x4a,
		ServoAddr:  0x40,
		PWMFreqHz:  50,
		ADCControl: []byte{0x40, 0x42, 0x41},
		MinPulse:   time.Millisecond,
		MaxPulse:   2 * time.Millisecond,
		Swing:      90,
	}
}

func (c I2CConfig) validate() error {
	if c.PWMFreqHz <= 0 {
		return fault.Configf("pwm frequency must be positive, got %v", c.PWMFreqHz)
	}
	if c.Swing <= 0 {
		return fault.Configf("servo swing must be positive, got %v", c.Swing)
	}
	if c.MaxPulse <= c.MinPulse {
		return fault.Configf("max pulse %v must exceed min pulse %v", c.MaxPulse, c.MinPulse)
	}
	if len(c.ADCControl) == 0 {
		return fault.Configf("no adc channels configured")
	}
	return nil
}

// I2C drives a PCF8591 ADC and a PCA9685 servo hat sharing one bus.
type I2C struct {
	mu     sync.Mutex
	cfg    I2CConfig
	adc    *i2c.Dev
	servo  *i2c.Dev
	closer func() error
}

// OpenI2C initialises the host drivers and opens the configured bus.
func OpenI2C(cfg I2CConfig) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	b, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Bus, err)
	}
	d, err := NewI2C(b, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	d.closer = b.Close
	return d, nil
}

// NewI2C wraps an already open bus and restarts the servo hat.
func NewI2C(b i2c.Bus, cfg I2CConfig) (*I2C, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &I2C{
		cfg:   cfg,
		adc:   &i2c.Dev{Bus: b, Addr: cfg.ADCAddr},
		servo: &i2c.Dev{Bus: b, Addr: cfg.ServoAddr},
	}
	if err := d.restart(); err != nil {
		return nil, err
	}
	return d, nil
}

// Prescale returns the PCA9685 prescaler for freq.
func Prescale(freq float64) byte {
	return byte(math.Round(oscillatorHz/(pwmSteps*freq)) - 1)
}

func (d *I2C) restart() error {
	seq := [][]byte{
		{regMode1, mode1Sleep},
		{regPrescale, Prescale(d.cfg.PWMFreqHz)},
		{regMode1, mode1AutoInc},
	}
	for _, w := range seq {
		if _, err := d.servo.Write(w); err != nil {
			return Wrap("restart", -1, err)
		}
	}
	// oscillator needs 500us after leaving sleep
	time.Sleep(500 * time.Microsecond)
	if _, err := d.servo.Write([]byte{regMode1, mode1Restart | mode1AutoInc}); err != nil {
		return Wrap("restart", -1, err)
	}
	return nil
}

func (d *I2C) ReadPosition(ctx context.Context, channel int) (uint8, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if channel < 0 || channel >= len(d.cfg.ADCControl) {
		return 0, fault.Configf("no adc input mapped for channel %d", channel)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	// The first byte is the conversion started by the previous read.
	r := make([]byte, 2)
	if err := d.adc.Tx([]byte{d.cfg.ADCControl[channel]}, r); err != nil {
		return 0, Wrap(OpRead, channel, err)
	}
	return r[1], nil
}

// PulseTicks converts a command to the PCA9685 off-count.
func (d *I2C) PulseTicks(cmd float64) uint16 {
	span := float64(d.cfg.MaxPulse - d.cfg.MinPulse)
	pulse := float64(d.cfg.MinPulse) + cmd/d.cfg.Swing*span
	ticks := math.Round(pulse / float64(time.Second) * d.cfg.PWMFreqHz * pwmSteps)
	return uint16(math.Max(0, math.Min(ticks, pwmSteps-1)))
}

func (d *I2C) SetActuatorCommand(ctx context.Context, channel int, cmd float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channel < 0 || channel > 15 {
		return fault.Configf("servo channel %d out of range", channel)
	}
	off := d.PulseTicks(cmd)
	w := []byte{regLED0 + 4*byte(channel), 0, 0, byte(off), byte(off >> 8)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.servo.Write(w); err != nil {
		return Wrap(OpWrite, channel, err)
	}
	return nil
}

func (d *I2C) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
