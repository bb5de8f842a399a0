package vikauth

import "time"

// SecurityReport is a point-in-time summary of the engine's security posture
// for operators and compliance checks. It contains no secrets.
type SecurityReport struct {
	ProductionMode      bool
	SigningAlgorithm    string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Argon2              PasswordConfigReport
	PolicyMinLength     int
	HistoryDepth        int
	RateLimitingActive  bool
	IPThrottleActive    bool
	PasswordResetActive bool
	ResetStrategy       ResetStrategyType
	RevokeOnReset       bool
	NewDeviceNotify     bool
	AuditActive         bool
}

// PasswordConfigReport mirrors the argon2id cost parameters in effect.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport reports the posture of this engine instance. A nil engine
// returns the zero report.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	rateLimiting := e.config.RateLimits.Login.Max > 0 &&
		e.config.RateLimits.Login.Window > 0

	return SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.Token.SigningMethod,
		AccessTTL:        e.config.Token.AccessTTL,
		RefreshTTL:       e.config.Token.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		PolicyMinLength:     e.config.Password.Policy.MinLength,
		HistoryDepth:        e.config.Password.Policy.HistoryDepth,
		RateLimitingActive:  rateLimiting,
		IPThrottleActive:    e.config.RateLimits.EnableIPThrottle,
		PasswordResetActive: e.config.PasswordReset.Enabled,
		ResetStrategy:       e.config.PasswordReset.Strategy,
		RevokeOnReset:       e.config.Security.RevokeSessionsOnPasswordReset,
		NewDeviceNotify:     e.config.Security.NotifyOnNewDevice,
		AuditActive:         e.config.Audit.Enabled,
	}
}
