package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/repository"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type issuerMetrics interface {
	RegistrationRetry()
	RegistrationConflict()
}

// IssuerConfig configures registration number issuance.
type IssuerConfig struct {
	Prefix      string
	MaxAttempts int
	Now         func() time.Time
}

// RegistrationNumberIssuer decides the prefix and year of new registration
// numbers and retries a creation whose number collided with an existing one.
// The sequence itself comes from the per-year counter advanced inside the
// creation transaction, so a retry always draws a fresh number.
type RegistrationNumberIssuer struct {
	prefix      string
	maxAttempts int
	now         func() time.Time
	metrics     issuerMetrics
	logger      *zap.Logger
}

// NewRegistrationNumberIssuer builds an issuer.
func NewRegistrationNumberIssuer(cfg IssuerConfig, metrics issuerMetrics, logger *zap.Logger) *RegistrationNumberIssuer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	prefix := strings.ToUpper(strings.TrimSpace(cfg.Prefix))
	if prefix == "" {
		prefix = "IUTESSA"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationNumberIssuer{prefix: prefix, maxAttempts: cfg.MaxAttempts, now: cfg.Now, metrics: metrics, logger: logger}
}

// Spec returns the prefix and year a number issued now would carry.
func (i *RegistrationNumberIssuer) Spec() repository.RegistrationNumberSpec {
	return repository.RegistrationNumberSpec{Prefix: i.prefix, Year: i.now().Year()}
}

// Issue runs create until it stops colliding on the registration number, at
// most MaxAttempts times. Other errors are returned unchanged.
func (i *RegistrationNumberIssuer) Issue(ctx context.Context, create func(repository.RegistrationNumberSpec) error) error {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := create(i.Spec())
		uv, collided := repository.AsUniqueViolation(err)
		if !collided || uv.Constraint != repository.ConstraintRegistrationNumber {
			return err
		}
		i.logger.Warn("registration number collision", zap.Int("attempt", attempt))
		if attempt < i.maxAttempts && i.metrics != nil {
			i.metrics.RegistrationRetry()
		}
	}
	if i.metrics != nil {
		i.metrics.RegistrationConflict()
	}
	return appErrors.Clone(appErrors.ErrRegistrationNumberConflict, "")
}
