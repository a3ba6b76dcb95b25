package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

// SavePhysicalFact stores a physical presence record and sets its ID.
func (s *SQLiteStorage) SavePhysicalFact(ctx context.Context, fact *model.PhysicalNexusFact) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePhysicalFact(fact); err != nil {
		return err
	}
	return s.savePhysicalFactTx(ctx, s.conn(), fact)
}

func (s *SQLiteStorage) savePhysicalFactTx(ctx context.Context, q queryable, fact *model.PhysicalNexusFact) error {
	var description sql.NullString
	if fact.Description != "" {
		description = sql.NullString{String: fact.Description, Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO physical_facts (analysis_id, state, established_date, ended_date, description)
		VALUES (?, ?, ?, ?, ?)
	`, fact.AnalysisID, fact.State, formatDate(fact.EstablishedDate), nullDate(fact.EndedDate), description)
	if err != nil {
		return fmt.Errorf("failed to save physical fact: %w", mapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get physical fact ID: %w", err)
	}
	fact.ID = id
	return nil
}

// GetPhysicalFacts returns every physical presence record for an analysis.
func (s *SQLiteStorage) GetPhysicalFacts(ctx context.Context, analysisID string) ([]model.PhysicalNexusFact, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPhysicalFactsTx(ctx, s.conn(), analysisID)
}

func (s *SQLiteStorage) getPhysicalFactsTx(ctx context.Context, q queryable, analysisID string) ([]model.PhysicalNexusFact, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, analysis_id, state, established_date, ended_date, description
		FROM physical_facts
		WHERE analysis_id = ?
		ORDER BY state, established_date, id
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query physical facts: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var facts []model.PhysicalNexusFact
	for rows.Next() {
		var (
			fact           model.PhysicalNexusFact
			establishedStr string
			endedStr       sql.NullString
			description    sql.NullString
		)
		if err := rows.Scan(&fact.ID, &fact.AnalysisID, &fact.State, &establishedStr, &endedStr, &description); err != nil {
			return nil, fmt.Errorf("failed to scan physical fact: %w", err)
		}
		if fact.EstablishedDate, err = parseDate(establishedStr); err != nil {
			return nil, err
		}
		if fact.EndedDate, err = parseNullDate(endedStr); err != nil {
			return nil, err
		}
		fact.Description = description.String
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// DeletePhysicalFact removes one physical presence record.
func (s *SQLiteStorage) DeletePhysicalFact(ctx context.Context, analysisID string, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deletePhysicalFactTx(ctx, s.conn(), analysisID, id)
}

func (s *SQLiteStorage) deletePhysicalFactTx(ctx context.Context, q queryable, analysisID string, id int64) error {
	result, err := q.ExecContext(ctx,
		"DELETE FROM physical_facts WHERE analysis_id = ? AND id = ?", analysisID, id)
	if err != nil {
		return fmt.Errorf("failed to delete physical fact: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("physical fact %d: %w", id, common.ErrNotFound)
	}
	return nil
}
