// Package quota is the billing collaborator boundary: it decides whether an
// organization may start a run and receives usage reports after each stage.
package quota

import (
	"errors"
	"fmt"

	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/db"
)

// ErrQuotaExceeded indicates the organization may not start another run.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Checker is consulted before a run starts and reported to after every
// stage. Implementations must be safe for concurrent use.
type Checker interface {
	// AllowRun returns ErrQuotaExceeded (possibly wrapped) when the org has
	// no run budget left.
	AllowRun(orgID string) error

	// RecordRunStart accounts one started run against the org.
	RecordRunStart(runID, orgID string) error

	// ReportUsage accounts token and cost totals for one completed stage.
	ReportUsage(runID, orgID, stage string, tokens int, costUSD float64) error
}

// DBChecker enforces per-org monthly run limits from config against the
// run-start accounting table.
type DBChecker struct {
	db  *db.DB
	cfg config.Quota
}

// NewDBChecker creates a DBChecker.
func NewDBChecker(database *db.DB, cfg config.Quota) *DBChecker {
	return &DBChecker{db: database, cfg: cfg}
}

// AllowRun checks the org's run count for the current month against its
// configured limit. A limit of 0 means unlimited.
func (c *DBChecker) AllowRun(orgID string) error {
	limit := c.cfg.DefaultMonthlyRuns
	if n, ok := c.cfg.PerOrg[orgID]; ok {
		limit = n
	}
	if limit <= 0 {
		return nil
	}

	count, err := c.db.CountRunStarts(orgID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if count >= limit {
		return fmt.Errorf("org %s used %d of %d monthly runs: %w", orgID, count, limit, ErrQuotaExceeded)
	}
	return nil
}

// RecordRunStart accounts one started run.
func (c *DBChecker) RecordRunStart(runID, orgID string) error {
	return c.db.RecordRunStart(runID, orgID)
}

// ReportUsage records stage token/cost totals for billing.
func (c *DBChecker) ReportUsage(runID, orgID, stage string, tokens int, costUSD float64) error {
	return c.db.RecordStageUsage(runID, orgID, stage, tokens, costUSD)
}
