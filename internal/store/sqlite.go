package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a Store persisted in one SQLite file. Records of every
// relation share one table; attributes are stored as JSON and predicates are
// evaluated in Go after narrowing by record type.
type SQLiteStore struct {
	name    string
	path    string
	db      *sql.DB
	catalog *catalog
}

// OpenSQLite creates or opens the store at path. The store name is the file
// name without its extension.
//
// The database is configured with WAL mode, a 5-second busy timeout and a
// single connection, since SQLite only supports one writer at a time.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{
		name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:    path,
		db:      db,
		catalog: newCatalog(),
	}
	if err := s.loadCatalog(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadCatalog() error {
	infos, err := s.scan(SchemaInfo)
	if err != nil {
		return err
	}
	attrs, err := s.scan(SchemaAttributes)
	if err != nil {
		return err
	}
	indexes, err := s.scan(SchemaIndexes)
	if err != nil {
		return err
	}
	for _, info := range loadRelations(infos, attrs, indexes) {
		s.catalog.add(info)
	}
	return nil
}

// validate checks attrs against the catalog. Other handles on the same file
// may have created relations since the catalog was loaded, so an unknown
// record type reloads it once.
func (s *SQLiteStore) validate(rt RecordType, attrs Attributes) (RelationInfo, error) {
	info, err := s.catalog.validate(rt, attrs)
	if !errors.Is(err, ErrInvalidRecordType) {
		return info, err
	}
	if err := s.loadCatalog(); err != nil {
		return info, s.wrap("reload catalog", err)
	}
	return s.catalog.validate(rt, attrs)
}

func (s *SQLiteStore) validateQuery(q Query) error {
	err := s.catalog.validateQuery(q)
	if !errors.Is(err, ErrInvalidRecordType) {
		return err
	}
	if err := s.loadCatalog(); err != nil {
		return s.wrap("reload catalog", err)
	}
	return s.catalog.validateQuery(q)
}

func (s *SQLiteStore) Name() string { return s.name }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Create(relations []RelationInfo) error {
	for _, r := range relations {
		if err := s.CreateRelation(r); err != nil {
			return fmt.Errorf("sqlite store create: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateRelation(info RelationInfo) error {
	if info.Type.IsSchema() {
		return fmt.Errorf("%w: %s is reserved", ErrInvalidRecordType, info.Type)
	}
	if s.catalog.has(info.Type) {
		return fmt.Errorf("%w: relation %s exists", ErrDuplicateRecord, info.Type)
	}
	if err := s.loadCatalog(); err != nil {
		return s.wrap("reload catalog", err)
	}
	if s.catalog.has(info.Type) {
		return fmt.Errorf("%w: relation %s exists", ErrDuplicateRecord, info.Type)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return s.wrap("create relation", err)
	}
	defer tx.Rollback()
	for _, rec := range schemaRecords(info) {
		if err := insertRow(tx, NewUniqueID(), rec.Type, rec.Attrs, nil, nil); err != nil {
			return s.wrap("create relation", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("create relation", err)
	}
	s.catalog.add(info)
	return nil
}

func (s *SQLiteStore) Insert(rt RecordType, attrs Attributes, payload []byte) (UniqueID, error) {
	info, err := s.validate(rt, attrs)
	if err != nil {
		return "", err
	}
	id := NewUniqueID()
	if err := insertRow(s.db, id, rt, attrs, payload, uniqueKey(info, attrs)); err != nil {
		return "", s.wrap("insert", err)
	}
	return id, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertRow(db execer, id UniqueID, rt RecordType, attrs Attributes, payload, uk []byte) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO records (id, rtype, attrs, payload, ukey)
		VALUES (?, ?, ?, ?, ?)
	`, string(id), int64(rt), data, payload, uk)
	return err
}

func (s *SQLiteStore) Modify(rt RecordType, id UniqueID, attrs Attributes, payload []byte, mode ModifyMode) error {
	info, err := s.validate(rt, attrs)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return s.wrap("modify", err)
	}
	defer tx.Rollback()

	rec, err := getRow(tx, id)
	if err != nil {
		return s.wrap("modify", err)
	}
	if rec.Type != rt {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	next := attrs.Clone()
	if mode == ModifyMerge {
		next = rec.Attrs.Merge(attrs)
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if payload == nil {
		payload = rec.Payload
	}
	if _, err := tx.Exec(`
		UPDATE records SET attrs = ?, payload = ?, ukey = ? WHERE id = ?
	`, data, payload, uniqueKey(info, next), string(id)); err != nil {
		return s.wrap("modify", err)
	}
	return s.wrap("modify", tx.Commit())
}

func (s *SQLiteStore) Delete(id UniqueID) error {
	res, err := s.db.Exec(`DELETE FROM records WHERE id = ?`, string(id))
	if err != nil {
		return s.wrap("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Get(id UniqueID) (Record, error) {
	rec, err := getRow(s.db, id)
	if err != nil {
		return Record{}, s.wrap("get", err)
	}
	return rec, nil
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getRow(db queryRower, id UniqueID) (Record, error) {
	var (
		rt      int64
		data    []byte
		payload []byte
	)
	err := db.QueryRow(`
		SELECT rtype, attrs, payload FROM records WHERE id = ?
	`, string(id)).Scan(&rt, &data, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	var attrs Attributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		return Record{}, fmt.Errorf("unmarshal attributes of %s: %w", id, err)
	}
	return Record{Type: RecordType(rt), ID: id, Attrs: attrs, Payload: payload}, nil
}

// Cursor reads every matching record before returning, so the single
// connection is free again while the caller iterates.
func (s *SQLiteStore) Cursor(q Query) (Cursor, error) {
	if err := s.validateQuery(q); err != nil {
		return nil, err
	}
	recs, err := s.scan(q.Type)
	if err != nil {
		return nil, s.wrap("cursor", err)
	}
	out := recs[:0]
	for _, r := range recs {
		if q.Matches(r.Attrs) {
			out = append(out, r)
		}
	}
	return &sliceCursor{records: out}, nil
}

func (s *SQLiteStore) scan(rt RecordType) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, attrs, payload FROM records WHERE rtype = ? ORDER BY seq
	`, int64(rt))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id      string
			data    []byte
			payload []byte
		)
		if err := rows.Scan(&id, &data, &payload); err != nil {
			return nil, err
		}
		var attrs Attributes
		if err := json.Unmarshal(data, &attrs); err != nil {
			return nil, fmt.Errorf("unmarshal attributes of %s: %w", id, err)
		}
		out = append(out, Record{Type: rt, ID: UniqueID(id), Attrs: attrs, Payload: payload})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// wrap maps driver errors onto the store sentinels.
func (s *SQLiteStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%s %s: %w", op, s.name, ErrDuplicateRecord)
	}
	if strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%s %s: %w", op, s.name, ErrStoreClosed)
	}
	return fmt.Errorf("%s %s: %w", op, s.name, err)
}
