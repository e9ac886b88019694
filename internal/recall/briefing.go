package recall

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	briefingMaxChars       = 2000
	staleCommitmentAge     = 7 * 24 * time.Hour
	coolingRelationshipAge = 30 * 24 * time.Hour
	coolingMinImportance   = 0.3
	recentActivityWindow   = 24 * time.Hour
)

// BuildSessionBriefing composes the compact session-open digest: open commitment count
// (with a stale sub-count), the number of cooling relationships, and a 24-hour activity
// count, kept under briefingMaxChars so it fits comfortably at the top of an assistant's
// context window.
func (e *Engine) BuildSessionBriefing(ctx context.Context) (string, error) {
	openCommitments, staleCommitments, err := e.commitmentCounts(ctx)
	if err != nil {
		return "", fmt.Errorf("count commitments: %w", err)
	}
	cooling, err := e.coolingRelationshipCount(ctx)
	if err != nil {
		return "", fmt.Errorf("count cooling relationships: %w", err)
	}
	recent, err := e.recentActivityCount(ctx)
	if err != nil {
		return "", fmt.Errorf("count recent activity: %w", err)
	}

	var b strings.Builder
	b.WriteString("## Session briefing\n\n")

	if openCommitments == 0 {
		b.WriteString("- No open commitments.\n")
	} else if staleCommitments > 0 {
		fmt.Fprintf(&b, "- %d open commitment(s), %d stale (older than 7 days).\n", openCommitments, staleCommitments)
	} else {
		fmt.Fprintf(&b, "- %d open commitment(s).\n", openCommitments)
	}

	if cooling > 0 {
		fmt.Fprintf(&b, "- %d relationship(s) cooling (no contact in 30+ days).\n", cooling)
	}

	fmt.Fprintf(&b, "- %d memory event(s) in the last 24 hours.\n", recent)

	out := b.String()
	if len(out) > briefingMaxChars {
		out = out[:briefingMaxChars]
	}
	return out, nil
}

func (e *Engine) commitmentCounts(ctx context.Context) (open, stale int, err error) {
	err = e.st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories
		WHERE type = 'commitment' AND invalidated_at IS NULL`).Scan(&open)
	if err != nil {
		return 0, 0, err
	}

	cutoff := cutoffTime(-staleCommitmentAge)
	err = e.st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories
		WHERE type = 'commitment' AND invalidated_at IS NULL AND created_at < ?`, cutoff).Scan(&stale)
	return open, stale, err
}

func (e *Engine) coolingRelationshipCount(ctx context.Context) (int, error) {
	cutoff := cutoffTime(-coolingRelationshipAge)
	var count int
	err := e.st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE deleted_at IS NULL
			AND type = 'person'
			AND importance > ?
			AND last_contact_at IS NOT NULL
			AND last_contact_at < ?`, coolingMinImportance, cutoff).Scan(&count)
	return count, err
}

func (e *Engine) recentActivityCount(ctx context.Context) (int, error) {
	cutoff := cutoffTime(-recentActivityWindow)
	var count int
	err := e.st.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log WHERE timestamp >= ?", cutoff).Scan(&count)
	return count, err
}

func cutoffTime(offset time.Duration) string {
	return time.Now().Add(offset).UTC().Format(time.RFC3339Nano)
}
