package scheduler

import "time"

const (
	dailyDecayCron = "0 2 * * *"

	// patternDetectionInterval matches verify_interval_minutes' documented default:
	// the scheduler folds the Verify pass into pattern_detection at the same cadence,
	// since "memory_verification" is never registered as its own job.
	patternDetectionInterval = 60 * time.Minute

	// fullConsolidationInterval runs the complete pass (merge + optional LLM steps)
	// less often than the nightly decay, since it is the more expensive of the two.
	fullConsolidationInterval = 7 * 24 * time.Hour

	vaultSyncInterval = 15 * time.Minute
)

// RegisterDefaultJobs wires the four named background jobs at their documented default
// cadences. Callers pass one JobFunc per job rather than concrete engine types,
// so this package never needs to import consolidate/verify/vault:
//
//   - daily_decay (cron, 02:00): the full Consolidate pass, so deadline surge and decay
//     run nightly regardless of how rarely full_consolidation's heavier merge/LLM steps
//     are scheduled.
//   - pattern_detection (interval): a Verify batch, keeping memories moving out of
//     "pending" at a steady cadence without waiting for the nightly or weekly passes.
//   - full_consolidation (interval): the same Consolidate pass as daily_decay, run
//     weekly, for deployments that want the heavier near-duplicate-merge and optional
//     LLM steps to actually execute (they are gated behind config/an available API key,
//     so running this job more often than daily_decay costs little when they're off).
//   - vault_sync (interval): the Vault adapter's write-through sync. Always registered,
//     even when no vault is configured — callers pass a no-op JobFunc in that case, so
//     the scheduler's job-id set is unconditionally the same four names.
func RegisterDefaultJobs(s *Scheduler, decay, verify, fullConsolidation, vaultSync JobFunc) error {
	return RegisterDefaultJobsWithIntervals(s, decay, verify, fullConsolidation, vaultSync, 0, 0)
}

// RegisterDefaultJobsWithIntervals is RegisterDefaultJobs, with the pattern_detection and
// full_consolidation cadences overridable (e.g. from the configured verify_interval_minutes)
// — a zero duration keeps that job's documented default.
func RegisterDefaultJobsWithIntervals(s *Scheduler, decay, verify, fullConsolidation, vaultSync JobFunc, patternInterval, fullConsolidationIntervalOverride time.Duration) error {
	if patternInterval <= 0 {
		patternInterval = patternDetectionInterval
	}
	if fullConsolidationIntervalOverride <= 0 {
		fullConsolidationIntervalOverride = fullConsolidationInterval
	}

	if err := s.RegisterCron(JobDailyDecay, dailyDecayCron, decay); err != nil {
		return err
	}
	if err := s.RegisterInterval(JobPatternDetection, patternInterval, verify); err != nil {
		return err
	}
	if err := s.RegisterInterval(JobFullConsolidation, fullConsolidationIntervalOverride, fullConsolidation); err != nil {
		return err
	}
	if err := s.RegisterInterval(JobVaultSync, vaultSyncInterval, vaultSync); err != nil {
		return err
	}
	return nil
}
