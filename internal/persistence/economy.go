package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/war-room/internal/game"
)

const factionColumns = `id, session_id, nation_key, oil, iron, osr, homeland_status`

// Factions returns a session's nations ordered by key.
func (t *Tx) Factions(ctx context.Context, sessionID string) ([]game.Faction, error) {
	var factions []game.Faction
	err := t.tx.SelectContext(ctx, &factions, `SELECT `+factionColumns+` FROM factions
		WHERE session_id = ? ORDER BY nation_key`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load factions: %w", err)
	}
	return factions, nil
}

// Faction loads one nation by normalized key.
func (t *Tx) Faction(ctx context.Context, sessionID, nationKey string) (*game.Faction, error) {
	var f game.Faction
	err := t.tx.GetContext(ctx, &f, `SELECT `+factionColumns+` FROM factions
		WHERE session_id = ? AND nation_key = ?`, sessionID, nationKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("nation %q: %w", nationKey, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load nation %q: %w", nationKey, err)
	}
	return &f, nil
}

// InsertFaction registers a nation in a session.
func (t *Tx) InsertFaction(ctx context.Context, f *game.Faction) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO factions (`+factionColumns+`)
		VALUES (:id, :session_id, :nation_key, :oil, :iron, :osr, :homeland_status)`, f)
	if err != nil {
		return fmt.Errorf("insert nation %q: %w", f.Key, err)
	}
	return nil
}

// CreditFaction adds income to a nation's balances. Exactly one row must
// change; anything else is an error so the caller's transaction rolls back.
func (t *Tx) CreditFaction(ctx context.Context, sessionID, nationKey string, r game.Resources) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE factions
		SET oil = oil + ?, iron = iron + ?, osr = osr + ?
		WHERE session_id = ? AND nation_key = ?`,
		r.Oil, r.Iron, r.OSR, sessionID, nationKey)
	if err != nil {
		return fmt.Errorf("credit %q: %w", nationKey, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("credit %q: %w", nationKey, err)
	}
	if !ok {
		return fmt.Errorf("credit %q: balance row not updated", nationKey)
	}
	return nil
}

type territoryRow struct {
	Scenario      string `db:"scenario"`
	Code          string `db:"code"`
	Name          string `db:"name"`
	Oil           int64  `db:"oil"`
	Iron          int64  `db:"iron"`
	OSR           int64  `db:"osr"`
	EmbattledOil  int64  `db:"embattled_oil"`
	EmbattledIron int64  `db:"embattled_iron"`
	EmbattledOSR  int64  `db:"embattled_osr"`
}

func (r territoryRow) territory() game.Territory {
	return game.Territory{
		Code:      r.Code,
		Name:      r.Name,
		Active:    game.Resources{Oil: r.Oil, Iron: r.Iron, OSR: r.OSR},
		Embattled: game.Resources{Oil: r.EmbattledOil, Iron: r.EmbattledIron, OSR: r.EmbattledOSR},
	}
}

func cacheKey(scenario, code string) string {
	return scenario + "/" + code
}

// SeedTerritories writes a scenario's territory catalog. Existing rows are
// replaced so an edited scenario file takes effect on the next start.
func (db *DB) SeedTerritories(ctx context.Context, scenario string, territories []game.Territory) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertTerritories(ctx, scenario, territories)
	})
}

// UpsertTerritories is SeedTerritories inside an existing transaction.
func (t *Tx) UpsertTerritories(ctx context.Context, scenario string, territories []game.Territory) error {
	for _, terr := range territories {
		_, err := t.tx.ExecContext(ctx, `INSERT INTO territories
			(scenario, code, name, oil, iron, osr, embattled_oil, embattled_iron, embattled_osr)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (scenario, code) DO UPDATE SET
				name = excluded.name,
				oil = excluded.oil, iron = excluded.iron, osr = excluded.osr,
				embattled_oil = excluded.embattled_oil,
				embattled_iron = excluded.embattled_iron,
				embattled_osr = excluded.embattled_osr`,
			scenario, terr.Code, terr.Name, terr.Active.Oil, terr.Active.Iron, terr.Active.OSR,
			terr.Embattled.Oil, terr.Embattled.Iron, terr.Embattled.OSR)
		if err != nil {
			return fmt.Errorf("seed territory %s: %w", terr.Code, err)
		}
		t.db.territories.Remove(cacheKey(scenario, terr.Code))
	}
	return nil
}

// Territories returns yield data for the given codes, keyed by code. Codes
// with no reference row are simply absent from the result.
func (t *Tx) Territories(ctx context.Context, scenario string, codes []string) (map[string]game.Territory, error) {
	out := make(map[string]game.Territory, len(codes))
	var missing []string
	for _, code := range codes {
		if terr, ok := t.db.territories.Get(cacheKey(scenario, code)); ok {
			out[code] = terr
			continue
		}
		missing = append(missing, code)
	}
	if len(missing) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT scenario, code, name, oil, iron, osr,
		embattled_oil, embattled_iron, embattled_osr
		FROM territories WHERE scenario = ? AND code IN (?)`, scenario, missing)
	if err != nil {
		return nil, fmt.Errorf("load territories: %w", err)
	}
	var rows []territoryRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load territories: %w", err)
	}
	for _, r := range rows {
		terr := r.territory()
		t.db.territories.Add(cacheKey(scenario, r.Code), terr)
		out[r.Code] = terr
	}
	return out, nil
}

// Controls returns every control assignment of a session.
func (t *Tx) Controls(ctx context.Context, sessionID string) ([]game.ControlAssignment, error) {
	var controls []game.ControlAssignment
	err := t.tx.SelectContext(ctx, &controls, `SELECT session_id, territory_code, nation_key, status
		FROM territory_control WHERE session_id = ? ORDER BY territory_code`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load control: %w", err)
	}
	return controls, nil
}

// SetControl records who controls a territory.
func (t *Tx) SetControl(ctx context.Context, c game.ControlAssignment) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO territory_control (session_id, territory_code, nation_key, status)
		VALUES (:session_id, :territory_code, :nation_key, :status)
		ON CONFLICT (session_id, territory_code) DO UPDATE SET
			nation_key = excluded.nation_key,
			status = excluded.status`, c)
	if err != nil {
		return fmt.Errorf("set control of %s: %w", c.TerritoryCode, err)
	}
	return nil
}

// HasLogEntry reports whether an event was already logged for a round.
func (t *Tx) HasLogEntry(ctx context.Context, sessionID string, round int, eventType string) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM game_log
		WHERE session_id = ? AND round = ? AND event_type = ?`, sessionID, round, eventType)
	if err != nil {
		return false, fmt.Errorf("check %s log: %w", eventType, err)
	}
	return n > 0, nil
}

// LogEntry returns the first entry of an event type for a round, or nil.
func (t *Tx) LogEntry(ctx context.Context, sessionID string, round int, eventType string) (*game.LogEntry, error) {
	var e game.LogEntry
	err := t.tx.GetContext(ctx, &e, `SELECT id, session_id, round, event_type, payload, created_at
		FROM game_log WHERE session_id = ? AND round = ? AND event_type = ?
		ORDER BY id LIMIT 1`, sessionID, round, eventType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s log: %w", eventType, err)
	}
	return &e, nil
}

// AppendLog writes a game log entry.
func (t *Tx) AppendLog(ctx context.Context, e game.LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO game_log (session_id, round, event_type, payload, created_at)
		VALUES (:session_id, :round, :event_type, :payload, :created_at)`, e)
	if err != nil {
		return fmt.Errorf("append %s log: %w", e.EventType, err)
	}
	return nil
}

// Log returns the most recent entries of a session, newest first.
func (t *Tx) Log(ctx context.Context, sessionID string, limit int) ([]game.LogEntry, error) {
	var entries []game.LogEntry
	err := t.tx.SelectContext(ctx, &entries, `SELECT id, session_id, round, event_type, payload, created_at
		FROM game_log WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	return entries, nil
}
