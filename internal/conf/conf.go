// Package conf contains the configuration of the tool.
package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/project-chip/certification-tool-cli/internal/confenv"
	"github.com/project-chip/certification-tool-cli/internal/logger"
)

// EnvPrefix is the prefix of the environment variables that override
// configuration values.
const EnvPrefix = "THCLI"

// Conf is the configuration of the tool. Values come from defaults, an
// optional YAML file and THCLI_* environment variables, in that order.
type Conf struct {
	// Hostname of the test harness backend, optionally with a port.
	Hostname string `yaml:"hostname"`

	// Local port of the embedded video verification server.
	VerificationPort int `yaml:"verificationPort"`

	LogLevel string `yaml:"logLevel"`

	// Directory that receives one log file per test run.
	LogDir string `yaml:"logDir"`

	// Directory that receives raw H.264 captures of video prompts.
	VideoDir string `yaml:"videoDir"`

	// Overrides the transcoder command line. Parsed with shell quoting,
	// empty means "ffmpeg".
	FFmpegCommand string `yaml:"ffmpegCommand"`

	// Public ids of tests that can only run from a browser.
	BrowserOnlyTests []string `yaml:"browserOnlyTests"`

	// Case-insensitive substrings of case errors that indicate a
	// browser-only test.
	BrowserErrorIndicators []string `yaml:"browserErrorIndicators"`

	PPROF   bool `yaml:"pprof"`
	NoColor bool `yaml:"noColor"`
}

func (conf *Conf) setDefaults() {
	conf.Hostname = "localhost"
	conf.VerificationPort = 8999
	conf.LogLevel = "info"
	conf.LogDir = "logs"
	conf.VideoDir = "captures"
	conf.BrowserOnlyTests = []string{"TC_WEBRTC_1_6"}
	conf.BrowserErrorIndicators = []string{
		"browserpeerconnection",
		"webrtc",
		"browser peer",
		"create_browser_peer",
	}
}

// Load loads the configuration from defaults, an optional file and the
// environment.
func Load(fpath string) (*Conf, error) {
	conf := &Conf{}
	conf.setDefaults()

	if fpath != "" {
		buf, err := os.ReadFile(fpath)
		if err != nil {
			return nil, err
		}

		err = yaml.UnmarshalStrict(buf, conf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fpath, err)
		}
	}

	err := confenv.Load(EnvPrefix, conf)
	if err != nil {
		return nil, err
	}

	err = conf.Validate()
	if err != nil {
		return nil, err
	}

	return conf, nil
}

// Validate checks the configuration for consistency.
func (conf *Conf) Validate() error {
	if conf.Hostname == "" {
		return fmt.Errorf("hostname must not be empty")
	}

	if conf.VerificationPort <= 0 || conf.VerificationPort > 65535 {
		return fmt.Errorf("invalid verification port: %d", conf.VerificationPort)
	}

	if _, err := conf.LoggerLevel(); err != nil {
		return err
	}

	return nil
}

// LoggerLevel converts the configured log level.
func (conf *Conf) LoggerLevel() (logger.Level, error) {
	switch conf.LogLevel {
	case "debug":
		return logger.Debug, nil

	case "info":
		return logger.Info, nil

	case "warn":
		return logger.Warn, nil

	case "error":
		return logger.Error, nil
	}
	return 0, fmt.Errorf("invalid log level: '%s'", conf.LogLevel)
}
