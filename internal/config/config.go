package config

import (
	"os"

	"codeberg.org/mutker/particlectl/internal/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultPort            = "/dev/ttyUSB0"
	defaultTimeout         = 3
	defaultReadPeriod      = 60
	defaultSleepPeriod     = 60
	defaultSampleInterval  = 2
	defaultJSONOutput      = "/var/www/html/divumwx/jsondata/particles.txt"
	defaultMaxWakeFailures = 5
	defaultWakeRetry       = 3
	defaultDegradedRetry   = 30
)

// Config holds all tunables for the acquisition daemon. Durations are
// in seconds. Values are loaded once at startup and never change while
// running.
type Config struct {
	Port            string `mapstructure:"port"`
	Timeout         int    `mapstructure:"timeout"`
	ReadPeriod      int    `mapstructure:"read_period"`
	SleepPeriod     int    `mapstructure:"sleep_period"`
	SampleInterval  int    `mapstructure:"sample_interval"`
	JSONOutput      string `mapstructure:"json_output"`
	LogRaw          bool   `mapstructure:"log_raw"`
	MaxWakeFailures int    `mapstructure:"max_wake_failures"`
	WakeRetry       int    `mapstructure:"wake_retry"`
	DegradedRetry   int    `mapstructure:"degraded_retry"`
	LogLevel        string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	flags := pflag.NewFlagSet("particlectl", pflag.ContinueOnError)
	flags.String("port", defaultPort, "Serial device path of the sensor")
	flags.Int("timeout", defaultTimeout, "Device read timeout in seconds")
	flags.Int("read-period", defaultReadPeriod, "Seconds to actively sample per cycle")
	flags.Int("sleep-period", defaultSleepPeriod, "Seconds to sleep the sensor per cycle")
	flags.Int("sample-interval", defaultSampleInterval, "Seconds between samples")
	flags.String("json-output", defaultJSONOutput, "Path of the exported JSON snapshot")
	flags.Bool("log-raw", false, "Log every raw sample at debug level")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("port", defaultPort)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("read_period", defaultReadPeriod)
	v.SetDefault("sleep_period", defaultSleepPeriod)
	v.SetDefault("sample_interval", defaultSampleInterval)
	v.SetDefault("json_output", defaultJSONOutput)
	v.SetDefault("log_raw", false)
	v.SetDefault("max_wake_failures", defaultMaxWakeFailures)
	v.SetDefault("wake_retry", defaultWakeRetry)
	v.SetDefault("degraded_retry", defaultDegradedRetry)
	v.SetDefault("log_level", DefaultLogLevel)

	if configPath := os.Getenv("PARTICLECTL_CONFIG"); configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("particlectl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	bindFlag(v, flags, "port", "port")
	bindFlag(v, flags, "timeout", "timeout")
	bindFlag(v, flags, "read_period", "read-period")
	bindFlag(v, flags, "sleep_period", "sleep-period")
	bindFlag(v, flags, "sample_interval", "sample-interval")
	bindFlag(v, flags, "json_output", "json-output")
	bindFlag(v, flags, "log_raw", "log-raw")
	bindFlag(v, flags, "log_level", "log-level")

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	setLogLevel(config.LogLevel)

	return config, nil
}

// bindFlag overrides a config key with a flag value, but only when the
// flag was set on the command line.
func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, flagName string) {
	f := flags.Lookup(flagName)
	if f == nil || !f.Changed {
		return
	}

	switch f.Value.Type() {
	case "int":
		val, _ := flags.GetInt(flagName)
		v.Set(key, val)
	case "bool":
		val, _ := flags.GetBool(flagName)
		v.Set(key, val)
	default:
		v.Set(key, f.Value.String())
	}
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Port == "" {
		return errFactory.New(errors.ErrInvalidPort)
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidTimeout, c.Timeout)
	}
	if c.ReadPeriod <= 0 {
		return errFactory.WithData(errors.ErrInvalidPeriod, c.ReadPeriod)
	}
	if c.SleepPeriod < 0 {
		return errFactory.WithData(errors.ErrInvalidPeriod, c.SleepPeriod)
	}
	if c.SampleInterval <= 0 || c.SampleInterval > c.ReadPeriod {
		return errFactory.WithData(errors.ErrInvalidInterval, c.SampleInterval)
	}
	if c.JSONOutput == "" {
		return errFactory.New(errors.ErrInvalidOutput)
	}
	if c.MaxWakeFailures <= 0 || c.WakeRetry <= 0 || c.DegradedRetry <= 0 {
		return errFactory.New(errors.ErrInvalidConfig)
	}
	if !isValidLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "error":
		return true
	default:
		return false
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
