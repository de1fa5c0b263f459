package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
	"halo-tracker/internal/config"
	"halo-tracker/internal/constants"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/metrics"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/schema"
	"halo-tracker/internal/transform"

	"github.com/go-playground/validator/v10"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type Engine struct {
	source      Source
	players     PlayerStore
	matches     MatchStore
	checkpoints CheckpointStore
	runs        RunStore
	writer      Writer
	metrics     metrics.Metrics
	flushSize   int
	locks       *playerLocks
	validate    *validator.Validate
	now         func() time.Time
	logger      zerolog.Logger
}

func NewEngine(
	source Source,
	players PlayerStore,
	matches MatchStore,
	checkpoints CheckpointStore,
	runs RunStore,
	writer Writer,
	m metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) *Engine {
	flushSize := cfg.Sync.FlushSize
	if flushSize <= 0 {
		flushSize = constants.SyncFlushSize
	}
	return &Engine{
		source:      source,
		players:     players,
		matches:     matches,
		checkpoints: checkpoints,
		runs:        runs,
		writer:      writer,
		metrics:     m,
		flushSize:   flushSize,
		locks:       newPlayerLocks(),
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("component", "syncer").Logger(),
	}
}

// pending holds transformed rows not yet flushed.
type pending struct {
	matches      []batch.Row
	participants []batch.Row
	skills       []batch.Row
	raw          []batch.Row
	inserted     int
	updated      int
}

func (p *pending) size() int {
	return len(p.matches)
}

func (p *pending) reset() {
	*p = pending{}
}

// SyncPlayer pulls the player's new matches, newest first, until it reaches
// the checkpoint or a stored match at or before it. Without a checkpoint the
// whole history is paged and stored matches are skipped. Runs for the same
// xuid on one Engine never overlap. playerID may be an xuid, a gamertag or a
// past alias. The returned Result is always populated; on failure its Err
// equals the returned error.
func (e *Engine) SyncPlayer(ctx context.Context, playerID string, opts Options) (Result, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return Result{Err: err}, fmt.Errorf("failed to generate run id: %w", err)
	}

	res := Result{RunID: runID, StartedAt: e.now()}
	log := e.logger.With().Str("run_id", runID).Str("player_id", playerID).Logger()

	if err := e.validate.Struct(opts); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		return e.finish(ctx, res, log)
	}

	player, err := e.refreshPlayer(ctx, playerID, log)
	if err != nil {
		res.Err = err
		return e.finish(ctx, res, log)
	}
	res.XUID = player.XUID
	res.Gamertag = player.Gamertag
	log = log.With().Str("xuid", player.XUID).Logger()

	log.Info().
		Int("max_matches", opts.MaxMatches).
		Bool("force_full", opts.ForceFull).
		Time("since", opts.Since).
		Msg("sync started")

	unlock := e.locks.lock(player.XUID)
	res.Err = e.run(ctx, &res, opts, log)
	unlock()
	return e.finish(ctx, res, log)
}

// refreshPlayer resolves playerID and refreshes the stored profile from the
// API. Unknown ids are looked up through the profile endpoint.
func (e *Engine) refreshPlayer(ctx context.Context, playerID string, log zerolog.Logger) (*domain.Player, error) {
	lookup, owner := playerID, ""
	stored, err := e.players.Resolve(ctx, playerID)
	switch {
	case err == nil:
		lookup, owner = stored.XUID, stored.XUID
	case errors.Is(err, repository.ErrPlayerNotFound):
		log.Debug().Msg("player unknown, resolving through profile api")
	default:
		return nil, fmt.Errorf("failed to resolve player %s: %w", playerID, err)
	}

	profile, err := e.source.Profile(ctx, lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", playerID, err)
	}

	rec, err := transform.Aliases(profile, owner, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to read profile for %s: %w", playerID, err)
	}

	added, err := e.players.Save(ctx, rec.Player, rec.Alias)
	if err != nil {
		return nil, err
	}
	if added {
		log.Info().Interface("gamertag", rec.Player["gamertag"]).Msg("alias recorded")
	}

	xuid, _ := rec.Player["xuid"].(string)
	gamertag, _ := rec.Player["gamertag"].(string)
	return &domain.Player{XUID: xuid, Gamertag: gamertag, UpdatedAt: e.now()}, nil
}

func (e *Engine) run(ctx context.Context, res *Result, opts Options, log zerolog.Logger) error {
	cp, err := e.checkpoints.Get(ctx, res.XUID)
	if err != nil {
		return err
	}
	if cp != nil {
		res.Checkpoint = cp.LastMatchID
		if !opts.ForceFull {
			log.Debug().Str("checkpoint", cp.LastMatchID).Msg("resuming from checkpoint")
		}
	}

	var (
		buf       pending
		newest    *transform.Entry
		prevStart time.Time
		seen      = make(map[string]bool)
	)

	for payload, err := range e.source.Matches(ctx, res.XUID) {
		if err != nil {
			return fmt.Errorf("failed to page match history: %w", err)
		}
		if opts.MaxMatches > 0 && res.Fetched >= opts.MaxMatches {
			log.Debug().Int("max_matches", opts.MaxMatches).Msg("match limit reached")
			break
		}

		entry, verr := transform.HistoryEntry(payload)
		if verr == nil && !opts.Since.IsZero() && !entry.StartedAt.IsZero() && entry.StartedAt.Before(opts.Since) {
			log.Debug().Str("match_id", entry.MatchID).Msg("reached since bound")
			break
		}

		res.Fetched++
		if verr != nil {
			res.Skipped++
			res.Errors = append(res.Errors, MatchError{Reason: verr.Error()})
			log.Warn().Err(verr).Msg("skipping malformed history entry")
			continue
		}

		if newest == nil {
			newest = &entry
		}

		if !opts.ForceFull && cp != nil && entry.MatchID == cp.LastMatchID {
			res.Skipped++
			log.Debug().Str("match_id", entry.MatchID).Msg("checkpoint reached")
			break
		}

		if seen[entry.MatchID] {
			res.Skipped++
			continue
		}
		seen[entry.MatchID] = true

		exists, err := e.matches.Exists(ctx, entry.MatchID)
		if err != nil {
			return err
		}
		if exists && !opts.ForceFull {
			res.Skipped++
			if behind(entry, cp) {
				log.Debug().Str("match_id", entry.MatchID).Msg("stored match reached")
				break
			}
			// stored by another player's sync or by an aborted run
			log.Debug().Str("match_id", entry.MatchID).Msg("match already stored, continuing")
			continue
		}

		// history is expected newest first; an older-then-newer pair is
		// still ingested but reported
		if !prevStart.IsZero() && !entry.StartedAt.IsZero() && entry.StartedAt.After(prevStart) {
			res.OutOfOrder++
			log.Warn().
				Str("match_id", entry.MatchID).
				Time("started_at", entry.StartedAt).
				Time("previous_started_at", prevStart).
				Msg("match history out of order")
		}
		if !entry.StartedAt.IsZero() {
			prevStart = entry.StartedAt
		}

		if err := e.collect(ctx, res, &buf, entry, exists, log); err != nil {
			return err
		}

		if buf.size() >= e.flushSize {
			if err := e.flush(ctx, res, &buf); err != nil {
				return err
			}
		}
	}

	if err := e.flush(ctx, res, &buf); err != nil {
		return err
	}

	if res.Inserted+res.Updated == 0 || newest == nil {
		log.Debug().Msg("nothing written, checkpoint unchanged")
		return nil
	}

	advanced, err := e.checkpoints.Advance(ctx, domain.SyncCheckpoint{
		XUID:               res.XUID,
		LastMatchID:        newest.MatchID,
		LastMatchStartedAt: newest.StartedAt,
		LastSyncedAt:       e.now(),
	})
	if err != nil {
		return err
	}
	res.CheckpointAdvanced = advanced
	if advanced {
		res.Checkpoint = newest.MatchID
	}
	return nil
}

// behind reports whether entry is at or before the player's checkpoint, so
// everything after it in the history was ingested by an earlier run.
func behind(entry transform.Entry, cp *domain.SyncCheckpoint) bool {
	if cp == nil || entry.StartedAt.IsZero() || cp.LastMatchStartedAt.IsZero() {
		return false
	}
	return !entry.StartedAt.After(cp.LastMatchStartedAt)
}

// collect fetches and transforms one new match into the pending batch. It
// returns an error only for failures that abort the run.
func (e *Engine) collect(ctx context.Context, res *Result, p *pending, entry transform.Entry, exists bool, log zerolog.Logger) error {
	var verr *transform.ValidationError

	stats, err := e.source.MatchStats(ctx, entry.MatchID)
	if err != nil {
		return fmt.Errorf("failed to fetch match stats %s: %w", entry.MatchID, err)
	}

	rec, err := transform.MatchStats(stats, res.XUID)
	if errors.As(err, &verr) {
		res.Skipped++
		res.Errors = append(res.Errors, MatchError{MatchID: entry.MatchID, Reason: verr.Error()})
		log.Warn().Err(err).Str("match_id", entry.MatchID).Msg("skipping malformed match")
		return nil
	}
	if err != nil {
		return err
	}

	var skillRows []batch.Row
	skill, err := e.source.MatchSkill(ctx, entry.MatchID, transform.ParticipantXUIDs(stats))
	switch {
	case api.IsNotFound(err):
		log.Debug().Str("match_id", entry.MatchID).Msg("no skill data for match")
	case err != nil:
		return fmt.Errorf("failed to fetch match skill %s: %w", entry.MatchID, err)
	default:
		skillRows, err = transform.SkillStats(skill, res.XUID)
		if errors.As(err, &verr) {
			// the match itself is fine; only its skill rows are dropped
			res.Errors = append(res.Errors, MatchError{MatchID: entry.MatchID, Reason: verr.Error()})
			log.Warn().Err(err).Str("match_id", entry.MatchID).Msg("dropping malformed skill payload")
			skillRows = nil
		} else if err != nil {
			return err
		}
	}

	now := e.now()
	rec.Match["updated_at"] = now
	p.matches = append(p.matches, rec.Match)
	p.participants = append(p.participants, rec.Participants...)
	p.skills = append(p.skills, skillRows...)
	p.raw = append(p.raw, e.archive(entry.MatchID, stats, now, log)...)
	if skillRows != nil {
		p.raw = append(p.raw, e.archive(entry.MatchID, skill, now, log)...)
	}

	if exists {
		p.updated++
	} else {
		p.inserted++
	}
	return nil
}

func (e *Engine) archive(matchID string, p api.Payload, fetchedAt time.Time, log zerolog.Logger) []batch.Row {
	body, err := repository.EncodePayload(p)
	if err != nil {
		log.Warn().Err(err).Str("match_id", matchID).Msg("payload not archived")
		return nil
	}
	return []batch.Row{{
		"match_id":   matchID,
		"kind":       string(p.Kind),
		"fetched_at": fetchedAt,
		"body":       body,
	}}
}

// flush writes the pending batch in one transaction. Counts move into the
// result only once the batch is committed.
func (e *Engine) flush(ctx context.Context, res *Result, p *pending) error {
	if p.size() == 0 {
		return nil
	}

	stats, err := e.writer.Flush(ctx,
		batch.UpsertOp(schema.Matches, p.matches),
		batch.UpsertOp(schema.MatchParticipants, p.participants),
		batch.UpsertOp(schema.SkillStats, p.skills),
		batch.UpsertOp(schema.RawPayloads, p.raw),
	)
	if err != nil {
		return fmt.Errorf("failed to flush %d matches: %w", p.size(), err)
	}

	res.Inserted += p.inserted
	res.Updated += p.updated
	res.Anomalies += len(stats.Anomalies)

	e.logger.Debug().
		Str("xuid", res.XUID).
		Int("matches", p.size()).
		Int("rows", stats.Rows).
		Msg("sync batch flushed")

	p.reset()
	return nil
}

func (e *Engine) finish(ctx context.Context, res Result, log zerolog.Logger) (Result, error) {
	res.Duration = e.now().Sub(res.StartedAt)

	status := domain.SyncStatusSuccess
	if res.Err != nil {
		status = domain.SyncStatusFailed
	}

	if res.XUID != "" {
		err := e.runs.Record(context.WithoutCancel(ctx), domain.SyncRun{
			RunID:      res.RunID,
			XUID:       res.XUID,
			StartedAt:  res.StartedAt,
			FinishedAt: res.StartedAt.Add(res.Duration),
			Fetched:    res.Fetched,
			Inserted:   res.Inserted,
			Updated:    res.Updated,
			Skipped:    res.Skipped,
			Errors:     len(res.Errors),
			Anomalies:  res.Anomalies,
			Status:     status,
			Error:      res.Failure(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to record sync run")
		}
	}

	e.metrics.AddMatchesFetched(res.Fetched)
	e.metrics.AddMatchesInserted(res.Inserted)
	e.metrics.AddMatchesUpdated(res.Updated)
	e.metrics.AddMatchesSkipped(res.Skipped)
	e.metrics.AddCoercionAnomalies(res.Anomalies)
	e.metrics.ObserveSyncRun(string(status), res.Duration)

	ev := log.Info()
	if res.Err != nil {
		ev = log.Error().Err(res.Err)
	}
	ev.Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).
		Int("anomalies", res.Anomalies).
		Str("checkpoint", res.Checkpoint).
		Bool("checkpoint_advanced", res.CheckpointAdvanced).
		Dur("duration", res.Duration).
		Msg("sync finished")

	return res, res.Err
}

// SyncAllPlayers syncs every registered player in turn. A failed player does
// not stop the others; cancellation is honored between players.
func (e *Engine) SyncAllPlayers(ctx context.Context, opts Options) (map[string]Result, error) {
	if err := e.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	players, err := e.players.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Result, len(players))
	failed := 0
	for _, p := range players {
		if err := ctx.Err(); err != nil {
			e.logger.Warn().Err(err).Int("done", len(results)).Int("total", len(players)).Msg("sync all interrupted")
			return results, err
		}

		res, err := e.SyncPlayer(ctx, p.XUID, opts)
		if err != nil {
			failed++
		}
		results[p.XUID] = res
	}

	e.logger.Info().Int("players", len(players)).Int("failed", failed).Msg("sync all finished")
	return results, nil
}
