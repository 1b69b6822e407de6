package service

import (
	"context"
	"fmt"
	"log/slog"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/metrics"
	"shipping-escrow/internal/repo"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AdminService holds the owner-gated oracle configuration. Updates only affect
// requests issued afterwards; issued requests keep their own copy.
type AdminService interface {
	Owner() common.Address
	OracleDetails(ctx context.Context) (domain.OracleDetails, error)
	UpdateOracleDetails(ctx context.Context, caller common.Address, details domain.OracleDetails) (domain.OracleDetails, error)
}

type adminService struct {
	settings repo.SettingsRepo
	owner    common.Address
	defaults domain.OracleDetails
	clock    func() time.Time
	metrics  *metrics.EscrowMetrics
}

// NewAdminService returns the facet. defaults are served until the owner
// saves details for the first time.
func NewAdminService(settings repo.SettingsRepo, owner common.Address, defaults domain.OracleDetails, clock func() time.Time) AdminService {
	if clock == nil {
		clock = time.Now
	}
	return &adminService{
		settings: settings,
		owner:    owner,
		defaults: defaults,
		clock:    clock,
		metrics:  metrics.Escrow(),
	}
}

func (s *adminService) Owner() common.Address {
	return s.owner
}

func (s *adminService) OracleDetails(ctx context.Context) (domain.OracleDetails, error) {
	stored, err := s.settings.OracleDetails(ctx)
	if err != nil {
		return domain.OracleDetails{}, fmt.Errorf("load oracle details: %w", err)
	}
	if stored == nil {
		return s.defaults, nil
	}
	return *stored, nil
}

func (s *adminService) UpdateOracleDetails(ctx context.Context, caller common.Address, details domain.OracleDetails) (domain.OracleDetails, error) {
	if caller != s.owner {
		s.metrics.Rejected(OpAdmin, domain.Reason(domain.ErrUnauthorized))
		return domain.OracleDetails{}, fmt.Errorf("%w: %s is not the owner", domain.ErrUnauthorized, caller.Hex())
	}
	if err := details.Validate(); err != nil {
		s.metrics.Rejected(OpAdmin, domain.Reason(domain.ErrInvalidOracle))
		return domain.OracleDetails{}, fmt.Errorf("%w: %v", domain.ErrInvalidOracle, err)
	}

	details.UpdatedAt = s.clock()
	if err := s.settings.SaveOracleDetails(ctx, details); err != nil {
		return domain.OracleDetails{}, fmt.Errorf("save oracle details: %w", err)
	}

	slog.Info("oracle details updated",
		"oracle", details.Oracle.Hex(),
		"reference", details.Reference.Hex(),
		"job_id", details.JobID,
		"fee", details.Fee,
	)
	return details, nil
}
