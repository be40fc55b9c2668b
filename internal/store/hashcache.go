package store

import (
	"database/sql"
	"time"
)

// CachedHash returns the hash recorded for path if the file is unchanged
// since, as identified by fileKey
func (s *Store) CachedHash(path, fileKey string) (string, bool, error) {
	var key, hash string
	err := s.db.QueryRow(`SELECT file_key, hash FROM hash_cache WHERE path = ?`, path).Scan(&key, &hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if key != fileKey {
		return "", false, nil
	}
	return hash, true, nil
}

// PutHash records the hash of path at the given file key
func (s *Store) PutHash(path, fileKey, hash string) error {
	_, err := s.db.Exec(`
		INSERT INTO hash_cache (path, file_key, hash, checked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET file_key = excluded.file_key, hash = excluded.hash, checked_at = excluded.checked_at
	`, path, fileKey, hash, time.Now())
	return err
}

// ForgetHashesExcept drops cache rows for paths not in keep and returns how
// many were removed
func (s *Store) ForgetHashesExcept(keep map[string]bool) (int, error) {
	rows, err := s.db.Query(`SELECT path FROM hash_cache`)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[p] {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	err = s.Transaction(func(tx *sql.Tx) error {
		for _, p := range stale {
			if _, err := tx.Exec(`DELETE FROM hash_cache WHERE path = ?`, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
