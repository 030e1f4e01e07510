package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"personagen/internal/models"
)

var ErrNotFound = errors.New("personality not found")

// Store loads and saves personality configurations. The variable
// sampling and memory parameters live in a JSON column; identity and
// model columns are first-class for lookups.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load resolves a personality by name. The identity and model columns
// are authoritative; config_json only fills in the variable parameters,
// so a stale id serialized into the config can never shadow the row's.
func (s *Store) Load(ctx context.Context, name string) (*models.LoadedPersonality, error) {
	var (
		id         int64
		rowName    string
		provider   string
		textModel  string
		vision     sql.NullString
		configJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, provider, text_model, vision_model, config_json FROM personalities WHERE name = ?`,
		name,
	).Scan(&id, &rowName, &provider, &textModel, &vision, &configJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load personality: %w", err)
	}
	var p models.LoadedPersonality
	if err := json.Unmarshal([]byte(configJSON), &p); err != nil {
		return nil, fmt.Errorf("decode personality config: %w", err)
	}
	p.ID = id
	p.Name = rowName
	p.Provider = provider
	p.TextModel = textModel
	if vision.Valid {
		p.VisionModel = vision.String
	}
	return &p, nil
}

// Save inserts or updates a personality record.
func (s *Store) Save(ctx context.Context, p *models.LoadedPersonality) error {
	if p.Name == "" || p.Provider == "" || p.TextModel == "" {
		return errors.New("name, provider and text_model are required")
	}
	configJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode personality config: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO personalities (name, provider, text_model, vision_model, config_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET provider=excluded.provider, text_model=excluded.text_model,
		 vision_model=excluded.vision_model, config_json=excluded.config_json, updated_at=excluded.updated_at`,
		p.Name, p.Provider, p.TextModel, nullable(p.VisionModel), string(configJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("save personality: %w", err)
	}
	if p.ID == 0 {
		if id, err := res.LastInsertId(); err == nil {
			p.ID = id
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
