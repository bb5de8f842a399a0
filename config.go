package vikauth

import (
	"errors"
	"time"

	"github.com/armanmishra1000/AirvikBook-sub000/password"
)

// Config defines the full engine configuration tree.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token         TokenConfig
	Session       SessionConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	RateLimits    RateLimitConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access-token issuance and refresh-token lifetime.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis session registry.
type SessionConfig struct {
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig combines argon2id cost parameters with the composition
// policy enforced on every new password.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	Policy password.Policy
}

// ResetStrategyType selects how reset challenges are generated.
type ResetStrategyType int

const (
	// ResetToken issues an opaque base64url token.
	ResetToken ResetStrategyType = iota
	// ResetOTP issues a short numeric one-time code.
	ResetOTP
	// ResetUUID issues a UUIDv4 challenge.
	ResetUUID
)

// PasswordResetConfig controls the self-service reset flow.
type PasswordResetConfig struct {
	Enabled     bool
	Strategy    ResetStrategyType
	ResetTTL    time.Duration
	MaxAttempts int
	OTPDigits   int

	// RedisPrefix namespaces reset records; empty uses the default.
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitWindow is one fixed-window budget: at most Max attempts per
// Window per identity.
type RateLimitWindow struct {
	Window time.Duration
	Max    int
}

// RateLimitConfig holds the per-operation budgets. A zero Window or Max
// disables that limiter.
type RateLimitConfig struct {
	Login          RateLimitWindow
	Refresh        RateLimitWindow
	PasswordChange RateLimitWindow
	ResetRequest   RateLimitWindow
	ResetConfirm   RateLimitWindow

	// EnableIPThrottle duplicates the login budget per client IP in
	// addition to per identifier.
	EnableIPThrottle bool

	// RedisPrefix namespaces limiter keys; empty uses the default.
	RedisPrefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting hardening switches.
type SecurityConfig struct {
	ProductionMode bool

	// MaxClockSkew bounds how far in the future a token iat may sit
	// before validation rejects it.
	MaxClockSkew time.Duration

	// RevokeSessionsOnPasswordReset ends every session after a completed
	// password reset. Always on in production mode.
	RevokeSessionsOnPasswordReset bool

	// NotifyOnNewDevice sends a notification when a login arrives from a
	// user agent the account has not seen before.
	NotifyOnNewDevice bool

	// EnumerationDelayMin/Max bound the randomized delay applied to
	// account-missing paths so response timing does not reveal whether an
	// email is registered.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "vs",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			Policy:         password.DefaultPolicy(),
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			Strategy:    ResetToken,
			ResetTTL:    15 * time.Minute,
			MaxAttempts: 5,
			OTPDigits:   6,
		},
		RateLimits: RateLimitConfig{
			Login:          RateLimitWindow{Window: 15 * time.Minute, Max: 5},
			Refresh:        RateLimitWindow{Window: time.Minute, Max: 20},
			PasswordChange: RateLimitWindow{Window: time.Hour, Max: 5},
			ResetRequest:   RateLimitWindow{Window: time.Hour, Max: 3},
			ResetConfirm:   RateLimitWindow{Window: 15 * time.Minute, Max: 5},

			EnableIPThrottle: true,
			RedisPrefix:      "vrl",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:                false,
			MaxClockSkew:                  30 * time.Second,
			RevokeSessionsOnPasswordReset: true,
			NotifyOnNewDevice:             true,
			EnumerationDelayMin:           20 * time.Millisecond,
			EnumerationDelayMax:           40 * time.Millisecond,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration tree for internal consistency.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}

	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported Token signing method")
	}
	if c.Token.SigningMethod == "ed25519" && len(c.Token.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Token.SigningMethod == "ed25519" && len(c.Token.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.Policy.MinLength < 1 {
		return errors.New("Password Policy MinLength must be >= 1")
	}
	if c.Password.Policy.MaxLength > 0 && c.Password.Policy.MaxLength < c.Password.Policy.MinLength {
		return errors.New("Password Policy MaxLength must be >= MinLength")
	}
	if c.Password.Policy.HistoryDepth < 0 {
		return errors.New("Password Policy HistoryDepth must be >= 0")
	}

	// Password Reset
	if c.PasswordReset.Enabled {
		switch c.PasswordReset.Strategy {
		case ResetToken, ResetOTP, ResetUUID:
			// valid
		default:
			return errors.New("PasswordReset Strategy is invalid")
		}

		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset ResetTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}

		if c.PasswordReset.Strategy == ResetOTP {
			if c.PasswordReset.OTPDigits < 6 || c.PasswordReset.OTPDigits > 10 {
				return errors.New("PasswordReset OTPDigits must be between 6 and 10 in OTP mode")
			}
			if c.PasswordReset.MaxAttempts > 5 {
				return errors.New("PasswordReset MaxAttempts must be <= 5 in OTP mode")
			}
			if c.PasswordReset.ResetTTL > 15*time.Minute {
				return errors.New("PasswordReset ResetTTL must be <= 15m in OTP mode")
			}
		}

		if c.RateLimits.ResetRequest.Max <= 0 || c.RateLimits.ResetRequest.Window <= 0 {
			return errors.New("PasswordReset requires a ResetRequest rate limit")
		}
		if c.RateLimits.ResetConfirm.Max <= 0 || c.RateLimits.ResetConfirm.Window <= 0 {
			return errors.New("PasswordReset requires a ResetConfirm rate limit")
		}
	}

	// Rate limits
	for _, w := range []RateLimitWindow{
		c.RateLimits.Login,
		c.RateLimits.Refresh,
		c.RateLimits.PasswordChange,
		c.RateLimits.ResetRequest,
		c.RateLimits.ResetConfirm,
	} {
		if w.Window < 0 || w.Max < 0 {
			return errors.New("rate limit windows and budgets must be >= 0")
		}
		if w.Window > 0 && w.Window < time.Millisecond {
			return errors.New("rate limit Window must be at least 1ms")
		}
		if (w.Window == 0) != (w.Max == 0) {
			return errors.New("rate limit Window and Max must be set together")
		}
	}
	if c.RateLimits.Login.Max <= 0 {
		return errors.New("Login rate limit must be configured")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	if c.Security.MaxClockSkew < 0 {
		return errors.New("Security MaxClockSkew must be >= 0")
	}
	if c.Security.EnumerationDelayMin < 0 ||
		c.Security.EnumerationDelayMax < c.Security.EnumerationDelayMin {
		return errors.New("Security enumeration delay bounds are invalid")
	}

	if c.Security.ProductionMode {
		if c.Token.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires Token AccessTTL <= 15m")
		}
		if c.Token.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires Token RefreshTTL <= 30d")
		}
		if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.Password.Policy.MinLength < 8 {
			return errors.New("ProductionMode requires Password Policy MinLength >= 8")
		}
		if c.Password.Policy.HistoryDepth < 1 {
			return errors.New("ProductionMode requires Password Policy HistoryDepth >= 1")
		}
		if !c.Security.RevokeSessionsOnPasswordReset {
			return errors.New("ProductionMode requires RevokeSessionsOnPasswordReset")
		}
		if c.Security.EnumerationDelayMax == 0 {
			return errors.New("ProductionMode requires enumeration delay bounds")
		}
	}

	return nil
}
