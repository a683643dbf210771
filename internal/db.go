package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("not found")

type Database interface {
	SaveScan(rec ScanRecord) error
	GetScan(id string) (ScanRecord, error)
	GetScanByIdentity(identity string) (ScanRecord, error)
	ListRecentScans(limit, offset int) ([]ScanRecord, error)
	DeleteScan(id string) error
	CleanScans(maxAge time.Duration) error
	SaveReport(r Report) error
	GetReports(identity string) ([]Report, error)
	GetUserByEmail(email string) (User, error)
	AddUser(u User) error
	DeleteUser(email string) error
	GetAllUsers() ([]User, error)
	GetTokenByValue(tk string) (Token, error)
	SaveToken(t Token) error
	TestAndReconnect() error
	Backup(w io.Writer) error
	Restore(filePath string) error
}

// --- postgres ---

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{Pool: pool}
	if err := p.createTables(); err != nil {
		return nil, err
	}
	return p, nil
}

func (db *PostgresDB) createTables() error {
	_, err := db.Pool.Exec(context.Background(),
		`CREATE TABLE IF NOT EXISTS scans (
            id TEXT PRIMARY KEY,
            identity TEXT NOT NULL,
            score INT,
            classification TEXT,
            scanned_at TIMESTAMP,
            data BYTEA NOT NULL
        );
        CREATE TABLE IF NOT EXISTS reports (
            id TEXT PRIMARY KEY,
            identity TEXT NOT NULL,
            email TEXT,
            verdict TEXT,
            comment TEXT,
            created_at TIMESTAMP
        );
        CREATE TABLE IF NOT EXISTS users (
            email TEXT PRIMARY KEY,
            id TEXT,
            admin BOOLEAN,
            key TEXT,
            hash BYTEA,
            created TIMESTAMP,
            updated TIMESTAMP
        );
        CREATE TABLE IF NOT EXISTS tokens (
            token TEXT PRIMARY KEY,
            expires_at TIMESTAMP,
            email TEXT,
            user_id TEXT,
            hash BYTEA
        );
        CREATE INDEX IF NOT EXISTS idx_scans_identity ON scans(identity, scanned_at DESC);
        CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at DESC);
        CREATE INDEX IF NOT EXISTS idx_reports_identity ON reports(identity);`)
	return err
}

func (db *PostgresDB) SaveScan(rec ScanRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(context.Background(),
		`INSERT INTO scans (id, identity, score, classification, scanned_at, data)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id) DO UPDATE SET
             score = EXCLUDED.score,
             classification = EXCLUDED.classification,
             scanned_at = EXCLUDED.scanned_at,
             data = EXCLUDED.data`,
		rec.ID, rec.Identity, rec.Score, string(rec.Classification), rec.ScannedAt, data)
	return err
}

func (db *PostgresDB) GetScan(id string) (ScanRecord, error) {
	var rec ScanRecord
	var data []byte
	err := db.Pool.QueryRow(context.Background(),
		"SELECT data FROM scans WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	return rec, rec.UnmarshalBinary(data)
}

func (db *PostgresDB) GetScanByIdentity(identity string) (ScanRecord, error) {
	var rec ScanRecord
	var data []byte
	err := db.Pool.QueryRow(context.Background(),
		"SELECT data FROM scans WHERE identity = $1 ORDER BY scanned_at DESC LIMIT 1",
		identity).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	return rec, rec.UnmarshalBinary(data)
}

func (db *PostgresDB) ListRecentScans(limit, offset int) ([]ScanRecord, error) {
	rows, err := db.Pool.Query(context.Background(),
		"SELECT data FROM scans ORDER BY scanned_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []ScanRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec ScanRecord
		if err := rec.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("unmarshal scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *PostgresDB) DeleteScan(id string) error {
	ct, err := db.Pool.Exec(context.Background(), "DELETE FROM scans WHERE id = $1", id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) CleanScans(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	_, err := db.Pool.Exec(context.Background(), "DELETE FROM scans WHERE scanned_at < $1", cutoff)
	return err
}

func (db *PostgresDB) SaveReport(r Report) error {
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO reports (id, identity, email, verdict, comment, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Identity, r.Email, r.Verdict, r.Comment, r.CreatedAt)
	return err
}

func (db *PostgresDB) GetReports(identity string) ([]Report, error) {
	rows, err := db.Pool.Query(context.Background(),
		"SELECT id, identity, email, verdict, comment, created_at FROM reports WHERE identity = $1 ORDER BY created_at DESC",
		identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.Identity, &r.Email, &r.Verdict, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (db *PostgresDB) GetUserByEmail(email string) (User, error) {
	var u User
	err := db.Pool.QueryRow(context.Background(),
		"SELECT email, id, admin, key, hash, created, updated FROM users WHERE email = $1",
		email).Scan(&u.Email, &u.ID, &u.Admin, &u.Key, &u.Hash, &u.Created, &u.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

func (db *PostgresDB) AddUser(u User) error {
	u.Updated = time.Now()
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO users (email, id, admin, key, hash, created, updated)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (email) DO UPDATE SET
             admin = EXCLUDED.admin,
             key = EXCLUDED.key,
             hash = EXCLUDED.hash,
             updated = EXCLUDED.updated`,
		u.Email, u.ID, u.Admin, u.Key, u.Hash, u.Created, u.Updated)
	return err
}

func (db *PostgresDB) DeleteUser(email string) error {
	_, err := db.Pool.Exec(context.Background(), "DELETE FROM users WHERE email = $1", email)
	return err
}

func (db *PostgresDB) GetAllUsers() ([]User, error) {
	rows, err := db.Pool.Query(context.Background(),
		"SELECT email, id, admin, key, hash, created, updated FROM users ORDER BY created")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Email, &u.ID, &u.Admin, &u.Key, &u.Hash, &u.Created, &u.Updated); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PostgresDB) GetTokenByValue(tk string) (Token, error) {
	var t Token
	err := db.Pool.QueryRow(context.Background(),
		"SELECT token, expires_at, email, user_id, hash FROM tokens WHERE token = $1",
		tk).Scan(&t.Token, &t.ExpiresAt, &t.Email, &t.UserID, &t.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (db *PostgresDB) SaveToken(t Token) error {
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO tokens (token, expires_at, email, user_id, hash)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (token) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		t.Token, t.ExpiresAt, t.Email, t.UserID, t.Hash)
	return err
}

func (db *PostgresDB) TestAndReconnect() error {
	return db.Pool.Ping(context.Background())
}

// Backup streams pg_dump output to w.
func (db *PostgresDB) Backup(w io.Writer) error {
	dsn := db.Pool.Config().ConnString()
	cmd := exec.Command("pg_dump", "-d", dsn, "--clean", "--if-exists")
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pg_dump failed: %s: %w", stderr.String(), err)
	}
	return nil
}

// Restore replays a SQL dump with psql. Destructive: the pool is closed
// for the duration and re-opened afterwards.
func (db *PostgresDB) Restore(filePath string) error {
	dsn := db.Pool.Config().ConnString()
	db.Pool.Close()

	cmd := exec.Command("psql", "-d", dsn, "-f", filePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("psql restore failed: %s: %w", stderr.String(), err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse config for re-connect: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to re-connect pool after restore: %w", err)
	}
	db.Pool = pool
	return nil
}

// --- bbolt ---

// BboltDB keys scans by identity so the freshness lookup is a single
// get; the id index bucket maps scan ids back to identities.
type BboltDB struct {
	DB *bbolt.DB
}

var (
	bucketScans   = []byte("scans")
	bucketScanIDs = []byte("scan_ids")
	bucketReports = []byte("reports")
	bucketUsers   = []byte("users")
	bucketTokens  = []byte("tokens")
)

func (db *BboltDB) SaveScan(rec ScanRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return db.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketScans)
		if err != nil {
			return err
		}
		ids, err := tx.CreateBucketIfNotExists(bucketScanIDs)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rec.Identity), data); err != nil {
			return err
		}
		return ids.Put([]byte(rec.ID), []byte(rec.Identity))
	})
}

func (db *BboltDB) GetScan(id string) (ScanRecord, error) {
	var rec ScanRecord
	err := db.DB.View(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(bucketScanIDs)
		if ids == nil {
			return ErrNotFound
		}
		identity := ids.Get([]byte(id))
		if identity == nil {
			return ErrNotFound
		}
		b := tx.Bucket(bucketScans)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(identity)
		if v == nil {
			return ErrNotFound
		}
		return rec.UnmarshalBinary(v)
	})
	return rec, err
}

func (db *BboltDB) GetScanByIdentity(identity string) (ScanRecord, error) {
	var rec ScanRecord
	err := db.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketScans)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(identity))
		if v == nil {
			return ErrNotFound
		}
		return rec.UnmarshalBinary(v)
	})
	return rec, err
}

func (db *BboltDB) ListRecentScans(limit, offset int) ([]ScanRecord, error) {
	var records []ScanRecord
	err := db.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketScans)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec ScanRecord
			if err := rec.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("unmarshal scan record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// bbolt iterates key order, not time order
	sortScansByTime(records)
	if offset >= len(records) {
		return nil, nil
	}
	records = records[offset:]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func sortScansByTime(records []ScanRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].ScannedAt.After(records[j-1].ScannedAt); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func (db *BboltDB) DeleteScan(id string) error {
	return db.DB.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(bucketScanIDs)
		if ids == nil {
			return ErrNotFound
		}
		identity := ids.Get([]byte(id))
		if identity == nil {
			return ErrNotFound
		}
		if b := tx.Bucket(bucketScans); b != nil {
			if err := b.Delete(identity); err != nil {
				return err
			}
		}
		return ids.Delete([]byte(id))
	})
}

func (db *BboltDB) CleanScans(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	return db.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketScans)
		if b == nil {
			return nil
		}
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec ScanRecord
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			if rec.ScannedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BboltDB) SaveReport(r Report) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return db.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketReports)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), data)
	})
}

func (db *BboltDB) GetReports(identity string) ([]Report, error) {
	var reports []Report
	err := db.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReports)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var r Report
			if err := r.UnmarshalBinary(v); err != nil {
				return err
			}
			if r.Identity == identity {
				reports = append(reports, r)
			}
			return nil
		})
	})
	return reports, err
}

func (db *BboltDB) GetUserByEmail(email string) (User, error) {
	var user User
	err := db.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(email))
		if v == nil {
			return ErrNotFound
		}
		return user.UnmarshalBinary(v)
	})
	return user, err
}

func (db *BboltDB) AddUser(u User) error {
	u.Updated = time.Now()
	return db.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketUsers)
		if err != nil {
			return err
		}
		v, err := u.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put([]byte(u.Email), v)
	})
}

func (db *BboltDB) DeleteUser(email string) error {
	return db.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketUsers)
		if err != nil {
			return err
		}
		return b.Delete([]byte(email))
	})
}

func (db *BboltDB) GetAllUsers() ([]User, error) {
	var users []User
	err := db.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var user User
			if err := user.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, user)
			return nil
		})
	})
	return users, err
}

func (db *BboltDB) GetTokenByValue(tk string) (Token, error) {
	var token Token
	err := db.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(tk))
		if v == nil {
			return ErrNotFound
		}
		return token.UnmarshalBinary(v)
	})
	return token, err
}

func (db *BboltDB) SaveToken(t Token) error {
	return db.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketTokens)
		if err != nil {
			return err
		}
		v, err := t.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put([]byte(t.Token), v)
	})
}

func (db *BboltDB) TestAndReconnect() error { return nil }

func (db *BboltDB) Backup(w io.Writer) error {
	return db.DB.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}

func (db *BboltDB) Restore(filePath string) error {
	return fmt.Errorf("restore is not supported for bbolt; replace the database file instead")
}
