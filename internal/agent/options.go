package agent

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/lockprobe/internal/store"
)

// Environment variables passed from the launcher to the agent process.
const (
	EnvAgent       = "LOCKPROBE_AGENT"
	EnvSession     = "LOCKPROBE_SESSION"
	EnvDriver      = "LOCKPROBE_DRIVER"
	EnvPolicy      = "LOCKPROBE_POLICY"
	EnvBusyTimeout = "LOCKPROBE_BUSY_TIMEOUT"
	EnvWrite       = "LOCKPROBE_WRITE"
	EnvLogLevel    = "LOCKPROBE_LOG_LEVEL"
)

// Policy decides how the agent behaves when the database is locked.
type Policy string

const (
	// PolicyNonBlocking fails the attempt at once when the lock is held.
	PolicyNonBlocking Policy = "nonblocking"

	// PolicyBlocking waits for the lock, up to Options.BusyTimeout.
	PolicyBlocking Policy = "blocking"
)

// DefaultBlockingTimeout bounds a blocking wait when Options.BusyTimeout is
// zero. It only guards against a test that never releases its lock.
const DefaultBlockingTimeout = time.Hour

// Options configure the agent runtime. They are fixed for the lifetime of an
// agent and travel to the process through its environment.
type Options struct {
	// Driver is the SQLite driver the agent opens databases with.
	// Empty means store.DriverMattn.
	Driver string

	// Policy is the lock acquisition policy. Empty means nonblocking.
	Policy Policy

	// BusyTimeout bounds a blocking wait. Ignored by the nonblocking policy.
	BusyTimeout time.Duration

	// SkipWrite makes attempts only begin and commit, without inserting.
	SkipWrite bool

	// LogLevel is the agent's log level.
	LogLevel slog.Level
}

// Validate checks that the options name a known driver and policy.
func (o Options) Validate() error {
	if !store.ValidDriver(o.Driver) {
		return fmt.Errorf("unknown driver %q", o.Driver)
	}
	switch o.Policy {
	case "", PolicyNonBlocking, PolicyBlocking:
	default:
		return fmt.Errorf("unknown policy %q", o.Policy)
	}
	if o.BusyTimeout < 0 {
		return fmt.Errorf("negative busy timeout %s", o.BusyTimeout)
	}
	return nil
}

func (o Options) policy() Policy {
	if o.Policy == "" {
		return PolicyNonBlocking
	}
	return o.Policy
}

func (o Options) driver() string {
	if o.Driver == "" {
		return store.DriverMattn
	}
	return o.Driver
}

// attemptOptions maps the policy onto engine configuration.
func (o Options) attemptOptions(writer string) store.AttemptOptions {
	cfg := store.Config{Driver: o.driver(), MustExist: true}
	if o.policy() == PolicyBlocking {
		cfg.BusyTimeout = o.BusyTimeout
		if cfg.BusyTimeout == 0 {
			cfg.BusyTimeout = DefaultBlockingTimeout
		}
	}
	return store.AttemptOptions{
		Config: cfg,
		Write:  !o.SkipWrite,
		Writer: writer,
	}
}

// Environ returns the environment entries that hand o and session to an
// agent process.
func (o Options) Environ(session string) []string {
	write := "1"
	if o.SkipWrite {
		write = "0"
	}
	return []string{
		EnvAgent + "=1",
		EnvSession + "=" + session,
		EnvDriver + "=" + o.driver(),
		EnvPolicy + "=" + string(o.policy()),
		EnvBusyTimeout + "=" + o.BusyTimeout.String(),
		EnvWrite + "=" + write,
		EnvLogLevel + "=" + o.LogLevel.String(),
	}
}

// OptionsFromEnv reads the options and session written by Environ.
// Unset variables take their defaults; the session is required.
func OptionsFromEnv(getenv func(string) string) (Options, string, error) {
	var opts Options

	session := getenv(EnvSession)
	if session == "" {
		return opts, "", fmt.Errorf("%s is not set", EnvSession)
	}

	opts.Driver = getenv(EnvDriver)
	opts.Policy = Policy(getenv(EnvPolicy))

	if v := getenv(EnvBusyTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, "", fmt.Errorf("%s: %w", EnvBusyTimeout, err)
		}
		opts.BusyTimeout = d
	}

	if v := getenv(EnvWrite); v != "" {
		write, err := strconv.ParseBool(v)
		if err != nil {
			return opts, "", fmt.Errorf("%s: %w", EnvWrite, err)
		}
		opts.SkipWrite = !write
	}

	if v := getenv(EnvLogLevel); v != "" {
		if err := opts.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return opts, "", fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}

	if err := opts.Validate(); err != nil {
		return opts, "", err
	}
	return opts, session, nil
}
