package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Issuance is one recorded distribution attempt. Steps lists which side
// effects completed (deliver, mark_issued, reset_counter), so a crash between
// delivery and the ledger writes is diagnosable after the fact.
type Issuance struct {
	ID           string
	Timestamp    time.Time
	TraceID      string
	UserID       string
	Outcome      string
	CredentialID string
	Steps        []string
	ErrorMessage string
}

// WriteIssuance records a distribution attempt and returns its generated ID.
func (s *Store) WriteIssuance(ctx context.Context, traceID, userID, outcome, credentialID string, steps []string, errorMsg string) (string, error) {
	id := uuid.New().String()

	var credNull sql.NullString
	if credentialID != "" {
		credNull = sql.NullString{String: credentialID, Valid: true}
	}
	var stepsNull sql.NullString
	if len(steps) > 0 {
		stepsNull = sql.NullString{String: strings.Join(steps, ","), Valid: true}
	}
	var errNull sql.NullString
	if errorMsg != "" {
		errNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issuances (id, ts, trace_id, user_id, outcome, credential_id, steps, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, time.Now().UTC(), traceID, userID, outcome, credNull, stepsNull, errNull)
	if err != nil {
		return "", fmt.Errorf("store: write issuance: %w", err)
	}
	return id, nil
}

// RecentIssuances returns the most recent distribution attempts, newest
// first.
func (s *Store) RecentIssuances(ctx context.Context, limit int) ([]Issuance, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, user_id, outcome, credential_id, steps, error_message
		FROM issuances ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent issuances: %w", err)
	}
	defer rows.Close()

	var result []Issuance
	for rows.Next() {
		var iss Issuance
		var cred, steps, errMsg sql.NullString
		if err := rows.Scan(&iss.ID, &iss.Timestamp, &iss.TraceID, &iss.UserID, &iss.Outcome, &cred, &steps, &errMsg); err != nil {
			return nil, fmt.Errorf("store: recent issuances: %w", err)
		}
		iss.CredentialID = cred.String
		if steps.Valid && steps.String != "" {
			iss.Steps = strings.Split(steps.String, ",")
		}
		iss.ErrorMessage = errMsg.String
		result = append(result, iss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent issuances: %w", err)
	}
	return result, nil
}
