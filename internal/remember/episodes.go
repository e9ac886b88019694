package remember

import (
	"context"
	"fmt"
	"time"

	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

// BufferedTurn is the result of BufferTurn: the episode it landed in and its turn number.
type BufferedTurn struct {
	EpisodeID  int64
	TurnNumber int
}

// BufferTurn appends one conversational turn to an episode, creating the episode first
// if episodeID is missing or unknown. Turn numbers are monotonic and gap-free within an
// episode; no embedding is produced here, since buffered content stays opaque until
// EndSession finalizes it.
func (e *Engine) BufferTurn(ctx context.Context, userContent, assistantContent string, episodeID int64, sessionID string) (BufferedTurn, error) {
	id := episodeID
	if id == 0 || !e.episodeExists(ctx, id) {
		newID, err := e.createEpisode(ctx, sessionID)
		if err != nil {
			return BufferedTurn{}, fmt.Errorf("create episode: %w", err)
		}
		id = newID
	}

	turnNumber, err := e.nextTurnNumber(ctx, id)
	if err != nil {
		return BufferedTurn{}, fmt.Errorf("determine turn number: %w", err)
	}

	now := store.FormatTime(time.Now())
	if _, err := e.st.Insert(ctx, "turn_buffer", map[string]any{
		"episode_id":        id,
		"turn_number":       turnNumber,
		"user_content":      userContent,
		"assistant_content": assistantContent,
		"created_at":        now,
	}); err != nil {
		return BufferedTurn{}, fmt.Errorf("insert turn: %w", err)
	}

	if _, _, err := e.st.Execute(ctx, "UPDATE episodes SET turn_count = turn_count + 1 WHERE id = ?", []any{id}, false); err != nil {
		return BufferedTurn{}, fmt.Errorf("increment turn_count: %w", err)
	}

	e.recordAudit(ctx, "buffer_turn", nil, nil, sessionID, true, map[string]any{"episode_id": id, "turn_number": turnNumber})
	return BufferedTurn{EpisodeID: id, TurnNumber: turnNumber}, nil
}

func (e *Engine) episodeExists(ctx context.Context, id int64) bool {
	_, err := e.st.GetOne(ctx, "episodes", "id = ?", []any{id})
	return err == nil
}

func (e *Engine) createEpisode(ctx context.Context, sessionID string) (int64, error) {
	return e.st.Insert(ctx, "episodes", map[string]any{
		"session_id": sessionID,
		"started_at": store.FormatTime(time.Now()),
		"turn_count": 0,
	})
}

func (e *Engine) nextTurnNumber(ctx context.Context, episodeID int64) (int, error) {
	var max *int
	err := e.st.DB().QueryRowContext(ctx,
		"SELECT MAX(turn_number) FROM turn_buffer WHERE episode_id = ?", episodeID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// EndSessionResult is the return shape of EndSession: it never raises on a missing
// episode, instead reporting the failure in Error.
type EndSessionResult struct {
	EpisodeID       int64
	NarrativeStored bool
	Error           string
}

// EndSession finalizes an episode: sets ended_at, is_summarized, and the narrative.
// episodeID=0 is rejected outright since identifiers start at 1; an unknown episodeID
// degrades to a populated Error field rather than an error return.
func (e *Engine) EndSession(ctx context.Context, episodeID int64, narrative string) (EndSessionResult, error) {
	if episodeID == 0 {
		return EndSessionResult{}, fmt.Errorf("episode_id=0 is invalid, identifiers start at 1")
	}

	if !e.episodeExists(ctx, episodeID) {
		return EndSessionResult{EpisodeID: episodeID, NarrativeStored: false, Error: fmt.Sprintf("episode %d not found", episodeID)}, nil
	}

	now := store.FormatTime(time.Now())
	if _, err := e.st.Update(ctx, "episodes", map[string]any{
		"ended_at":      now,
		"is_summarized": 1,
		"narrative":     narrative,
	}, "id = ?", []any{episodeID}); err != nil {
		return EndSessionResult{EpisodeID: episodeID, NarrativeStored: false, Error: err.Error()}, nil
	}

	e.recordAudit(ctx, "end_session", nil, nil, "", true, map[string]any{"episode_id": episodeID})
	return EndSessionResult{EpisodeID: episodeID, NarrativeStored: true}, nil
}

// UnsummarizedEpisode pairs an episode with its full turn list — the crash-recovery view
// of GetUnsummarizedTurns.
type UnsummarizedEpisode struct {
	Episode types.Episode
	Turns   []types.Turn
}

// GetUnsummarizedTurns returns every episode with is_summarized=0, each with its complete
// turn list, so a crashed or restarted process can resume summarization where it left off.
func (e *Engine) GetUnsummarizedTurns(ctx context.Context) ([]UnsummarizedEpisode, error) {
	rows, err := e.st.DB().QueryContext(ctx,
		"SELECT id, session_id, started_at, turn_count FROM episodes WHERE is_summarized = 0 ORDER BY started_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []types.Episode
	for rows.Next() {
		var ep types.Episode
		var startedAt string
		if err := rows.Scan(&ep.ID, &ep.SessionID, &startedAt, &ep.TurnCount); err != nil {
			return nil, err
		}
		ep.StartedAt = store.ParseTime(startedAt)
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]UnsummarizedEpisode, 0, len(episodes))
	for _, ep := range episodes {
		turns, err := e.turnsForEpisode(ctx, ep.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, UnsummarizedEpisode{Episode: ep, Turns: turns})
	}
	return out, nil
}

func (e *Engine) turnsForEpisode(ctx context.Context, episodeID int64) ([]types.Turn, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT id, episode_id, turn_number, user_content, assistant_content, created_at
		FROM turn_buffer WHERE episode_id = ? ORDER BY turn_number ASC`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Turn
	for rows.Next() {
		var t types.Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.EpisodeID, &t.TurnNumber, &t.UserContent, &t.AssistantContent, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = store.ParseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}
