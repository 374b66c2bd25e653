package postgres

import (
	"context"
	"fmt"

	"github.com/astrahq/astra/internal/domain/artifact"
)

// --- Sources ---

func (s *Store) AddSource(ctx context.Context, src artifact.Source) (*artifact.Source, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO sources (run_id, url, title, snippet, reliability)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, run_id, url, title, snippet, reliability, fetched_at`,
		src.RunID, src.URL, src.Title, src.Snippet, src.Reliability)

	var out artifact.Source
	if err := row.Scan(&out.ID, &out.RunID, &out.URL, &out.Title, &out.Snippet, &out.Reliability, &out.FetchedAt); err != nil {
		return nil, fmt.Errorf("add source: %w", err)
	}
	return &out, nil
}

func (s *Store) ListSources(ctx context.Context, runID string) ([]artifact.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, url, title, snippet, reliability, fetched_at
		 FROM sources WHERE run_id = $1 ORDER BY fetched_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []artifact.Source
	for rows.Next() {
		var src artifact.Source
		if err := rows.Scan(&src.ID, &src.RunID, &src.URL, &src.Title, &src.Snippet, &src.Reliability, &src.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// --- Facts ---

func (s *Store) AddFact(ctx context.Context, f artifact.Fact) (*artifact.Fact, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO facts (run_id, source_id, claim, confidence)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, run_id, source_id, claim, confidence, created_at`,
		f.RunID, nullIfEmpty(f.SourceID), f.Claim, f.Confidence)

	out, err := scanFact(row)
	if err != nil {
		return nil, fmt.Errorf("add fact: %w", err)
	}
	return &out, nil
}

func scanFact(row scannable) (artifact.Fact, error) {
	var (
		f        artifact.Fact
		sourceID *string
	)
	if err := row.Scan(&f.ID, &f.RunID, &sourceID, &f.Claim, &f.Confidence, &f.CreatedAt); err != nil {
		return artifact.Fact{}, err
	}
	if sourceID != nil {
		f.SourceID = *sourceID
	}
	return f, nil
}

func (s *Store) ListFacts(ctx context.Context, runID string) ([]artifact.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, source_id, claim, confidence, created_at
		 FROM facts WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []artifact.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// --- Conflicts ---

func (s *Store) AddConflict(ctx context.Context, c artifact.Conflict) (*artifact.Conflict, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conflicts (run_id, fact_a_id, fact_b_id, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, run_id, fact_a_id, fact_b_id, description, created_at`,
		c.RunID, c.FactAID, c.FactBID, c.Description)

	var out artifact.Conflict
	if err := row.Scan(&out.ID, &out.RunID, &out.FactAID, &out.FactBID, &out.Description, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("add conflict: %w", err)
	}
	return &out, nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*artifact.Conflict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, fact_a_id, fact_b_id, description, created_at
		 FROM conflicts WHERE id = $1`, id)

	var c artifact.Conflict
	if err := row.Scan(&c.ID, &c.RunID, &c.FactAID, &c.FactBID, &c.Description, &c.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get conflict %s", id)
	}
	return &c, nil
}

func (s *Store) ListConflicts(ctx context.Context, runID string) ([]artifact.Conflict, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, fact_a_id, fact_b_id, description, created_at
		 FROM conflicts WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []artifact.Conflict
	for rows.Next() {
		var c artifact.Conflict
		if err := rows.Scan(&c.ID, &c.RunID, &c.FactAID, &c.FactBID, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// --- Artifacts ---

func (s *Store) AddArtifact(ctx context.Context, a artifact.Artifact) (*artifact.Artifact, error) {
	content := a.Content
	if len(content) == 0 {
		content = []byte(`{}`)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO artifacts (run_id, task_id, kind, title, content, path)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, run_id, task_id, kind, title, content, path, created_at`,
		a.RunID, nullIfEmpty(a.TaskID), a.Kind, a.Title, content, a.Path)

	out, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("add artifact: %w", err)
	}
	return &out, nil
}

func scanArtifact(row scannable) (artifact.Artifact, error) {
	var (
		a      artifact.Artifact
		taskID *string
	)
	if err := row.Scan(&a.ID, &a.RunID, &taskID, &a.Kind, &a.Title, &a.Content, &a.Path, &a.CreatedAt); err != nil {
		return artifact.Artifact{}, err
	}
	if taskID != nil {
		a.TaskID = *taskID
	}
	return a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, task_id, kind, title, content, path, created_at
		 FROM artifacts WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
