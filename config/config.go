// Package config holds the configuration of linksync commands.
//
// Configuration is read from an optional YAML file on top of the defaults;
// command line flags override both.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/clock"
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/linksync/tempo"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Link     Link     `yaml:"link"`
	Playback Playback `yaml:"playback"`
	MIDI     MIDI     `yaml:"midi"`
	Log      Log      `yaml:"log"`
}

// Server configures the link server and the address clients dial.
type Server struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Interval     time.Duration `yaml:"interval"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// Link configures the session.
type Link struct {
	BPM     float64       `yaml:"bpm"`
	Quantum float64       `yaml:"quantum"`
	Range   tempo.Range   `yaml:"range"`
	Timeout time.Duration `yaml:"timeout"`
}

// Playback configures the local transport.
type Playback struct {
	Measures         int           `yaml:"measures"`
	StepsPerBeat     int           `yaml:"stepsPerBeat"`
	LookAhead        time.Duration `yaml:"lookAhead"`
	LowLatency       bool          `yaml:"lowLatency"`
	WatchdogMeasures int           `yaml:"watchdogMeasures"`
	SampleRate       int           `yaml:"sampleRate"`
}

// MIDI configures the MIDI sync output. An empty port disables it.
type MIDI struct {
	Port string `yaml:"port"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: Server{
			Host:         "127.0.0.1",
			Port:         linkosc.MasterPort,
			Interval:     clock.DefaultUpdateInterval,
			QueryTimeout: time.Second,
		},
		Link: Link{
			BPM:     120,
			Quantum: clock.DefaultQuantum,
			Range:   tempo.DefaultRange(),
			Timeout: time.Second,
		},
		Playback: Playback{
			Measures:         4,
			StepsPerBeat:     1,
			LookAhead:        100 * time.Millisecond,
			WatchdogMeasures: 2,
			SampleRate:       44100,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "reading config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, errors.Wrapf(err, "parsing %s", path)
	}
	return c, errors.Wrapf(c.Validate(), "validating %s", path)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return errors.Errorf("invalid port %d", c.Server.Port)
	case c.Server.Interval <= 0:
		return errors.New("server interval must be positive")
	case c.Server.QueryTimeout <= 0:
		return errors.New("query timeout must be positive")
	case !c.Link.Range.Valid():
		return errors.Errorf("invalid tempo range [%g, %g]: need 0 < min and 2*min <= max", c.Link.Range.Min, c.Link.Range.Max)
	case c.Link.BPM <= 0:
		return errors.Errorf("invalid tempo %g", c.Link.BPM)
	case c.Link.Quantum <= 0:
		return errors.Errorf("invalid quantum %g", c.Link.Quantum)
	case c.Playback.Measures <= 0:
		return errors.Errorf("invalid loop length %d", c.Playback.Measures)
	case c.Playback.StepsPerBeat <= 0:
		return errors.Errorf("invalid steps per beat %d", c.Playback.StepsPerBeat)
	case c.Playback.LookAhead < 0:
		return errors.New("lookahead must not be negative")
	case c.Playback.SampleRate <= 0:
		return errors.Errorf("invalid sample rate %d", c.Playback.SampleRate)
	}
	_, err := c.Log.ParseLevel()
	return err
}

// ParseLevel returns the logrus level.
func (l Log) ParseLevel() (logrus.Level, error) {
	level, err := logrus.ParseLevel(l.Level)
	return level, errors.Wrap(err, "parsing log level")
}
