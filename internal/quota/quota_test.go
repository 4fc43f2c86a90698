package quota

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/db"
)

func newTestChecker(t *testing.T, cfg config.Quota) *DBChecker {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewDBChecker(d, cfg)
}

func TestAllowRunUnderLimit(t *testing.T) {
	c := newTestChecker(t, config.Quota{DefaultMonthlyRuns: 3})

	for i := 0; i < 3; i++ {
		if err := c.AllowRun("acme"); err != nil {
			t.Fatalf("AllowRun %d: %v", i, err)
		}
		if err := c.RecordRunStart(fmt.Sprintf("r%d", i), "acme"); err != nil {
			t.Fatalf("RecordRunStart %d: %v", i, err)
		}
	}

	if err := c.AllowRun("acme"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("AllowRun over limit = %v, want ErrQuotaExceeded", err)
	}
}

func TestAllowRunPerOrgOverride(t *testing.T) {
	c := newTestChecker(t, config.Quota{
		DefaultMonthlyRuns: 1,
		PerOrg:             map[string]int{"premium": 10},
	})

	if err := c.RecordRunStart("r1", "premium"); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	if err := c.RecordRunStart("r2", "basic"); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}

	if err := c.AllowRun("premium"); err != nil {
		t.Errorf("premium org should still be under its override: %v", err)
	}
	if err := c.AllowRun("basic"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("basic org over default limit = %v, want ErrQuotaExceeded", err)
	}
}

func TestAllowRunUnlimited(t *testing.T) {
	c := newTestChecker(t, config.Quota{DefaultMonthlyRuns: 0})
	for i := 0; i < 20; i++ {
		if err := c.RecordRunStart(fmt.Sprintf("r%d", i), "acme"); err != nil {
			t.Fatalf("RecordRunStart: %v", err)
		}
	}
	if err := c.AllowRun("acme"); err != nil {
		t.Errorf("limit 0 means unlimited, got %v", err)
	}
}

func TestReportUsage(t *testing.T) {
	c := newTestChecker(t, config.Quota{})
	if err := c.ReportUsage("r1", "acme", "writer", 1500, 0.03); err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}

	tokens, cost, err := c.db.OrgUsageTotals("acme")
	if err != nil {
		t.Fatalf("OrgUsageTotals: %v", err)
	}
	if tokens != 1500 || cost != 0.03 {
		t.Errorf("totals = %d/%v, want 1500/0.03", tokens, cost)
	}
}
