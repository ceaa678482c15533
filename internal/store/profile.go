package store

import (
	"context"
	"time"
)

// UpsertProfile inserts or updates a user record. Empty fields keep the
// stored value.
func (db *DB) UpsertProfile(ctx context.Context, p *Profile) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, profile_picture, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
			profile_picture = CASE WHEN excluded.profile_picture != '' THEN excluded.profile_picture ELSE users.profile_picture END,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Email, p.ProfilePicture, time.Now().UnixMilli())
	return err
}

// GetProfiles returns the profiles for ids. Unknown ids are omitted.
func (db *DB) GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, email, profile_picture FROM users WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.ProfilePicture); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
