package factory

import (
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/real"
	"github.com/opd-ai/walletchat/simulation"
)

// Validation constants for configuration bounds checking.
const (
	// MinNetworkTimeout is the minimum allowed network timeout in milliseconds.
	MinNetworkTimeout = 100
	// MaxNetworkTimeout is the maximum allowed network timeout in milliseconds (10 minutes).
	MaxNetworkTimeout = 600000
	// MinRetryAttempts is the minimum allowed retry attempts.
	MinRetryAttempts = 0
	// MaxRetryAttempts is the maximum allowed retry attempts.
	MaxRetryAttempts = 100
)

// ErrSessionRequired is returned when a real session is requested without the
// wallet's network session to wrap.
var ErrSessionRequired = errors.New("network session is required for real mode")

// SessionFactory creates sessions based on configuration. It is safe for
// concurrent use.
type SessionFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.SessionConfig
	network       *simulation.Network
}

// TestConfigOption customizes the configuration used by
// CreateSimulationForTesting.
type TestConfigOption func(*interfaces.SessionConfig)

// NewSessionFactory creates a factory with default configuration and
// environment overrides applied.
func NewSessionFactory() *SessionFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &SessionFactory{
		defaultConfig: defaultConfig,
	}
}

// createDefaultConfig returns production defaults: real sessions, 5s
// per-attempt timeout, 3 retries.
func createDefaultConfig() *interfaces.SessionConfig {
	return &interfaces.SessionConfig{
		UseSimulation:  false,
		NetworkTimeout: 5000,
		RetryAttempts:  3,
	}
}

// applyEnvironmentOverrides updates config from WALLETCHAT_* variables.
// Values that fail to parse or fall outside the bounds are ignored.
func applyEnvironmentOverrides(config *interfaces.SessionConfig) {
	parsed := *config
	if err := env.Parse(&parsed); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyEnvironmentOverrides",
			"error":    err.Error(),
		}).Warn("Failed to parse session environment variables, keeping defaults for invalid values")
	}

	config.UseSimulation = parsed.UseSimulation

	if parsed.NetworkTimeout < MinNetworkTimeout || parsed.NetworkTimeout > MaxNetworkTimeout {
		logrus.WithFields(logrus.Fields{
			"function":    "applyEnvironmentOverrides",
			"env_var":     "WALLETCHAT_NETWORK_TIMEOUT_MS",
			"value":       parsed.NetworkTimeout,
			"min":         MinNetworkTimeout,
			"max":         MaxNetworkTimeout,
			"using_value": config.NetworkTimeout,
		}).Warn("WALLETCHAT_NETWORK_TIMEOUT_MS value out of bounds, using default")
	} else {
		config.NetworkTimeout = parsed.NetworkTimeout
	}

	if parsed.RetryAttempts < MinRetryAttempts || parsed.RetryAttempts > MaxRetryAttempts {
		logrus.WithFields(logrus.Fields{
			"function":    "applyEnvironmentOverrides",
			"env_var":     "WALLETCHAT_RETRY_ATTEMPTS",
			"value":       parsed.RetryAttempts,
			"min":         MinRetryAttempts,
			"max":         MaxRetryAttempts,
			"using_value": config.RetryAttempts,
		}).Warn("WALLETCHAT_RETRY_ATTEMPTS value out of bounds, using default")
	} else {
		config.RetryAttempts = parsed.RetryAttempts
	}
}

func logConfigurationInfo(config *interfaces.SessionConfig) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewSessionFactory",
		"use_simulation":  config.UseSimulation,
		"network_timeout": config.NetworkTimeout,
		"retry_attempts":  config.RetryAttempts,
	}).Info("Created session factory with configuration")
}

// Network returns the factory's simulation network, creating it on first
// use.
func (f *SessionFactory) Network() *simulation.Network {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.network == nil {
		f.network = simulation.NewNetwork()
	}
	return f.network
}

// CreateSession creates a session using the default configuration.
func (f *SessionFactory) CreateSession(local address.Address, inner interfaces.Session) (interfaces.Session, error) {
	f.mu.RLock()
	config := *f.defaultConfig
	f.mu.RUnlock()
	return f.CreateSessionWithConfig(local, inner, &config)
}

// CreateSessionWithConfig creates a session with a custom configuration. In
// simulation mode the session joins the factory's network at local and inner
// is ignored; otherwise inner is wrapped with retries.
func (f *SessionFactory) CreateSessionWithConfig(local address.Address, inner interfaces.Session, config *interfaces.SessionConfig) (interfaces.Session, error) {
	if config == nil {
		f.mu.RLock()
		c := *f.defaultConfig
		f.mu.RUnlock()
		config = &c
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateSessionWithConfig",
		"address":         local.Short(),
		"use_simulation":  config.UseSimulation,
		"network_timeout": config.NetworkTimeout,
		"retry_attempts":  config.RetryAttempts,
	}).Info("Creating network session")

	if config.UseSimulation {
		return real.NewRetryingSession(f.Network().Join(local), config), nil
	}

	if inner == nil {
		return nil, ErrSessionRequired
	}
	return real.NewRetryingSession(inner, config), nil
}

// WithNetworkTimeout sets a custom network timeout for the test configuration.
func WithNetworkTimeout(timeout int) TestConfigOption {
	return func(c *interfaces.SessionConfig) {
		c.NetworkTimeout = timeout
	}
}

// WithRetryAttempts sets custom retry attempts for the test configuration.
func WithRetryAttempts(retries int) TestConfigOption {
	return func(c *interfaces.SessionConfig) {
		c.RetryAttempts = retries
	}
}

// CreateSimulationForTesting joins local to the factory's simulation
// network. The test configuration defaults to a 1000ms timeout and a single
// retry.
func (f *SessionFactory) CreateSimulationForTesting(local address.Address, opts ...TestConfigOption) interfaces.Session {
	testConfig := &interfaces.SessionConfig{
		UseSimulation:  true,
		NetworkTimeout: 1000,
		RetryAttempts:  1,
	}
	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateSimulationForTesting",
		"address":         local.Short(),
		"network_timeout": testConfig.NetworkTimeout,
		"retry_attempts":  testConfig.RetryAttempts,
	}).Info("Creating simulation session for testing")

	return real.NewRetryingSession(f.Network().Join(local), testConfig)
}

// SwitchToSimulation switches the default configuration to simulation.
func (f *SessionFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the default configuration to real sessions.
func (f *SessionFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the default configuration.
func (f *SessionFactory) GetCurrentConfig() *interfaces.SessionConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c := *f.defaultConfig
	return &c
}

// IsUsingSimulation reports whether the default configuration selects
// simulation.
func (f *SessionFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultConfig.UseSimulation
}

// UpdateConfig replaces the default configuration after validating it.
func (f *SessionFactory) UpdateConfig(config *interfaces.SessionConfig) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.defaultConfig.UseSimulation,
		"new_simulation": config.UseSimulation,
		"old_timeout":    f.defaultConfig.NetworkTimeout,
		"new_timeout":    config.NetworkTimeout,
	}).Info("Updating factory configuration")

	c := *config
	f.defaultConfig = &c
	return nil
}
