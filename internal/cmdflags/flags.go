package cmdflags

import (
	"time"

	"github.com/andrebq/doorman/auth"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/session"
	"github.com/urfave/cli/v2"
)

const (
	envPrefix = "DOORMAN_"
)

func Database(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = "doorman.db"
	}
	return &cli.StringFlag{
		Name:        "database",
		Aliases:     []string{"db", "d"},
		Usage:       "Path to the sqlite file holding user credentials (created if missing)",
		EnvVars:     []string{envPrefix + "DATABASE"},
		Destination: out,
		Value:       *out,
	}
}

func PepperEnvVar(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = auth.PepperEnvVar
	}
	return &cli.StringFlag{
		Name:        "pepper-envvar-name",
		Usage:       "Name of the environment variable that holds the password pepper (base64, 32 bytes). The pepper itself should not be passed as an argument",
		Value:       *out,
		Destination: out,
	}
}

func HashScheme(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = auth.SchemeArgon2id
	}
	return &cli.StringFlag{
		Name:        "hash",
		Usage:       "Scheme used to hash new passwords (argon2id or bcrypt), existing hashes of either scheme are still accepted",
		EnvVars:     []string{envPrefix + "HASH"},
		Value:       *out,
		Destination: out,
	}
}

func SessionTTL(out *time.Duration) cli.Flag {
	if *out == 0 {
		*out = session.DefaultTTL
	}
	return &cli.DurationFlag{
		Name:        "session-ttl",
		Usage:       "How long a session lasts after login, zero or negative keeps sessions until logout",
		EnvVars:     []string{envPrefix + "SESSION_TTL"},
		Value:       *out,
		Destination: out,
	}
}

func LogLevel(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = "info"
	}
	return &cli.StringFlag{
		Name:        "log-level",
		Usage:       "Minimum level of log messages (trace, debug, info, warn, error)",
		EnvVars:     []string{envPrefix + "LOG_LEVEL"},
		Value:       *out,
		Destination: out,
	}
}

func LogFormat(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = logutil.FormatJSON
	}
	return &cli.StringFlag{
		Name:        "log-format",
		Usage:       "Format of log messages (json or console)",
		EnvVars:     []string{envPrefix + "LOG_FORMAT"},
		Value:       *out,
		Destination: out,
	}
}
