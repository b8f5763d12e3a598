package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/school-carpool/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveGroup(g *models.CarpoolGroup) error {
	members, err := json.Marshal(g.Members)
	if err != nil {
		return err
	}
	pickups, err := json.Marshal(g.PickupSequence)
	if err != nil {
		return err
	}
	var risk []byte
	if g.RouteRisk != nil {
		if risk, err = json.Marshal(g.RouteRisk); err != nil {
			return err
		}
	}
	_, err = p.db.Exec(`
		INSERT INTO carpool_groups(id, school_id, school_lat, school_lon, members, departure_time, pickup_sequence, route_risk, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			members = EXCLUDED.members,
			departure_time = EXCLUDED.departure_time,
			pickup_sequence = EXCLUDED.pickup_sequence,
			route_risk = EXCLUDED.route_risk,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		g.ID, g.SchoolID, g.School.Lat, g.School.Lon, members, g.DepartureTime, pickups, nullBytes(risk), string(g.Status), g.CreatedAt, g.UpdatedAt)
	return err
}

func (p *PostgresStore) GetGroup(id string) (models.CarpoolGroup, bool, error) {
	row := p.db.QueryRow(`
		SELECT id, school_id, school_lat, school_lon, members, departure_time, pickup_sequence, route_risk, status, created_at, updated_at
		FROM carpool_groups WHERE id = $1`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CarpoolGroup{}, false, nil
	}
	if err != nil {
		return models.CarpoolGroup{}, false, err
	}
	return g, true, nil
}

func (p *PostgresStore) UpdateGroup(id string, fn func(models.CarpoolGroup) (models.CarpoolGroup, error)) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, school_id, school_lat, school_lon, members, departure_time, pickup_sequence, route_risk, status, created_at, updated_at
		FROM carpool_groups WHERE id = $1 FOR UPDATE`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ValidationError{Reason: "group not found: " + id}
	}
	if err != nil {
		return err
	}
	updated, err := fn(g)
	if err != nil {
		return err
	}
	members, err := json.Marshal(updated.Members)
	if err != nil {
		return err
	}
	pickups, err := json.Marshal(updated.PickupSequence)
	if err != nil {
		return err
	}
	var risk []byte
	if updated.RouteRisk != nil {
		if risk, err = json.Marshal(updated.RouteRisk); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`
		UPDATE carpool_groups
		SET members=$1, departure_time=$2, pickup_sequence=$3, route_risk=$4, status=$5, updated_at=$6
		WHERE id=$7`,
		members, updated.DepartureTime, pickups, nullBytes(risk), string(updated.Status), time.Now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateProposal(pr *models.ScheduleChangeProposal) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM schedule_proposals WHERE group_id=$1 AND status='pending'`, pr.GroupID).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		return &models.StateConflictError{Reason: "group already has a pending proposal"}
	}
	votes, conflicts, alts, err := marshalProposalParts(*pr)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO schedule_proposals(id, group_id, proposer_id, current_time_at, proposed_time, reason, priority, votes, votes_required, conflicts, alternatives, status, conflicts_degraded, created_at, expires_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		pr.ID, pr.GroupID, pr.ProposerID, pr.CurrentTime, pr.ProposedTime, pr.Reason, string(pr.Priority),
		votes, pr.VotesRequired, conflicts, alts, string(pr.Status), pr.ConflictsDegraded, pr.CreatedAt, pr.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetProposal(id string) (models.ScheduleChangeProposal, bool, error) {
	row := p.db.QueryRow(proposalSelect+` WHERE id = $1`, id)
	pr, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ScheduleChangeProposal{}, false, nil
	}
	if err != nil {
		return models.ScheduleChangeProposal{}, false, err
	}
	return pr, true, nil
}

func (p *PostgresStore) UpdateProposal(id string, fn func(models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error)) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRow(proposalSelect+` WHERE id = $1 FOR UPDATE`, id)
	pr, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ValidationError{Reason: "proposal not found: " + id}
	}
	if err != nil {
		return err
	}
	updated, err := fn(pr)
	if err != nil {
		return err
	}
	votes, conflicts, alts, err := marshalProposalParts(updated)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE schedule_proposals
		SET proposed_time=$1, votes=$2, conflicts=$3, alternatives=$4, status=$5, conflicts_degraded=$6, expires_at=$7
		WHERE id=$8`,
		updated.ProposedTime, votes, conflicts, alts, string(updated.Status), updated.ConflictsDegraded, updated.ExpiresAt, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListPending() ([]models.ScheduleChangeProposal, error) {
	rows, err := p.db.Query(proposalSelect + ` WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScheduleChangeProposal
	for rows.Next() {
		pr, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

const proposalSelect = `
	SELECT id, group_id, proposer_id, current_time_at, proposed_time, reason, priority, votes, votes_required, conflicts, alternatives, status, conflicts_degraded, created_at, expires_at
	FROM schedule_proposals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (models.CarpoolGroup, error) {
	var g models.CarpoolGroup
	var members, pickups []byte
	var risk sql.NullString
	var status string
	err := row.Scan(&g.ID, &g.SchoolID, &g.School.Lat, &g.School.Lon, &members, &g.DepartureTime, &pickups, &risk, &status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return models.CarpoolGroup{}, err
	}
	g.Status = models.GroupStatus(status)
	if err := json.Unmarshal(members, &g.Members); err != nil {
		return models.CarpoolGroup{}, err
	}
	if err := json.Unmarshal(pickups, &g.PickupSequence); err != nil {
		return models.CarpoolGroup{}, err
	}
	if risk.Valid && risk.String != "" {
		var rr models.RouteRiskAnalysis
		if err := json.Unmarshal([]byte(risk.String), &rr); err != nil {
			return models.CarpoolGroup{}, err
		}
		g.RouteRisk = &rr
	}
	return g, nil
}

func scanProposal(row rowScanner) (models.ScheduleChangeProposal, error) {
	var pr models.ScheduleChangeProposal
	var votes, conflicts, alts []byte
	var status, priority string
	err := row.Scan(&pr.ID, &pr.GroupID, &pr.ProposerID, &pr.CurrentTime, &pr.ProposedTime, &pr.Reason, &priority,
		&votes, &pr.VotesRequired, &conflicts, &alts, &status, &pr.ConflictsDegraded, &pr.CreatedAt, &pr.ExpiresAt)
	if err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	pr.Status = models.ProposalStatus(status)
	pr.Priority = models.ProposalPriority(priority)
	if err := json.Unmarshal(votes, &pr.Votes); err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	if err := json.Unmarshal(conflicts, &pr.DetectedConflicts); err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	if err := json.Unmarshal(alts, &pr.Alternatives); err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	return pr, nil
}

func marshalProposalParts(pr models.ScheduleChangeProposal) (votes, conflicts, alts []byte, err error) {
	if pr.Votes == nil {
		pr.Votes = []models.ScheduleVote{}
	}
	if pr.DetectedConflicts == nil {
		pr.DetectedConflicts = []models.ScheduleConflict{}
	}
	if pr.Alternatives == nil {
		pr.Alternatives = []time.Time{}
	}
	if votes, err = json.Marshal(pr.Votes); err != nil {
		return
	}
	if conflicts, err = json.Marshal(pr.DetectedConflicts); err != nil {
		return
	}
	alts, err = json.Marshal(pr.Alternatives)
	return
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
