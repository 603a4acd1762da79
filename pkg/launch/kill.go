package launch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/parsecup/pkg/pidledger"
)

// Sweeper finds and force-kills role processes. *pidtrack.Sweeper
// satisfies it.
type Sweeper interface {
	TerminateAllByDiscovery(ctx context.Context) ([]int, error)
}

// KillReport summarizes a full kill.
type KillReport struct {
	Killed      []int `json:"killed"`
	LedgerMarks int   `json:"ledger_marked"`
}

// KillAll force-kills every discovered role process, including those from
// earlier invocations, then marks the matching ledger records terminated.
// It is best effort: individual failures are joined into the error.
func KillAll(ctx context.Context, sweeper Sweeper, ledger *pidledger.Store, log *zap.Logger) (KillReport, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var errs []error
	killed, err := sweeper.TerminateAllByDiscovery(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report := KillReport{Killed: killed}
	for _, pid := range killed {
		log.Info("Killed process", zap.Int("pid", pid))
	}

	if ledger != nil {
		dead := make(map[int]bool, len(killed))
		for _, pid := range killed {
			dead[pid] = true
		}
		err := ledger.Update(func(records []pidledger.Record) ([]pidledger.Record, error) {
			now := time.Now().UTC()
			for i := range records {
				if records[i].State == pidledger.StateRunning && dead[records[i].PID] {
					records[i].State = pidledger.StateTerminated
					records[i].EndedAt = &now
					report.LedgerMarks++
				}
			}
			return records, nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
		// Running records not matched by discovery are downgraded to unknown.
		if _, err := ledger.Live(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}

	return report, errors.Join(errs...)
}
