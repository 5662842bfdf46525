package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB represents our database layer
type DB struct {
	*sql.DB
}

// NewDB initializes and connects to the SQLite database
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Important settings for SQLite concurrency.
	// We want to avoid "database is locked" errors during concurrent writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// InitSchema sets up the required tables
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workshops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		topic TEXT NOT NULL,
		instructor TEXT NOT NULL,
		time TEXT NOT NULL,
		price REAL NOT NULL,
		max_participants INTEGER DEFAULT 50,
		is_active INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS registrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workshop_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT,
		company TEXT,
		experience_level TEXT,
		confirmation_code TEXT NOT NULL,
		registration_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (workshop_id) REFERENCES workshops(id)
	);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Workshop is a scheduled workshop. At most one workshop is active (open for
// registration) at any time.
type Workshop struct {
	ID              int64     `json:"id"`
	Date            string    `json:"date"`
	Topic           string    `json:"topic"`
	Instructor      string    `json:"instructor"`
	Time            string    `json:"time"`
	Price           float64   `json:"price"`
	MaxParticipants int       `json:"max_participants"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Remaining returns the number of open spots given the current registration count.
func (w *Workshop) Remaining(count int) int {
	return w.MaxParticipants - count
}

// IsFull reports whether the workshop has no spots left.
func (w *Workshop) IsFull(count int) bool {
	return count >= w.MaxParticipants
}

// Registration is one attendee's sign-up, permanently tied to the workshop
// that was active at submission time.
type Registration struct {
	ID               int64     `json:"id"`
	WorkshopID       int64     `json:"workshop_id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	Company          string    `json:"company,omitempty"`
	ExperienceLevel  string    `json:"experience_level"`
	ConfirmationCode string    `json:"confirmation_code"`
	RegistrationDate time.Time `json:"registration_date"`
}

// RegistrationRecord is a registration joined with its workshop's metadata,
// used by the admin roster and the CSV export.
type RegistrationRecord struct {
	Registration
	WorkshopTopic string `json:"workshop_topic"`
	WorkshopDate  string `json:"workshop_date"`
	WorkshopTime  string `json:"workshop_time"`
}

var ErrNoActiveWorkshop = errors.New("no active workshop")
var ErrWorkshopFull = errors.New("workshop is fully booked")
var ErrWorkshopNotFound = errors.New("workshop not found")

const activeWorkshopQuery = `
	SELECT id, date, topic, instructor, time, price, max_participants, is_active, created_at
	FROM workshops WHERE is_active = 1 ORDER BY date DESC LIMIT 1`

func scanWorkshop(row *sql.Row) (*Workshop, error) {
	var w Workshop
	err := row.Scan(&w.ID, &w.Date, &w.Topic, &w.Instructor, &w.Time,
		&w.Price, &w.MaxParticipants, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWorkshop deactivates every existing workshop and inserts a new active
// one. Both statements run in a single transaction so a concurrent reader can
// never observe two active workshops.
func (db *DB) CreateWorkshop(ctx context.Context, date, topic, instructor, timeOfDay string, price float64, maxParticipants int) (*Workshop, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback() // Safe to call even if committed

	if _, err := tx.ExecContext(ctx, `UPDATE workshops SET is_active = 0`); err != nil {
		return nil, fmt.Errorf("failed to deactivate workshops: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO workshops (date, topic, instructor, time, price, max_participants, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, date, topic, instructor, timeOfDay, price, maxParticipants)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workshop: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed getting workshop id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tx: %w", err)
	}

	return &Workshop{
		ID:              id,
		Date:            date,
		Topic:           topic,
		Instructor:      instructor,
		Time:            timeOfDay,
		Price:           price,
		MaxParticipants: maxParticipants,
		IsActive:        true,
	}, nil
}

// ActivateWorkshop deactivates all workshops, then activates the given one.
// Returns ErrWorkshopNotFound when no workshop has that id.
func (db *DB) ActivateWorkshop(ctx context.Context, workshopID int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE workshops SET is_active = 0`); err != nil {
		return fmt.Errorf("failed to deactivate workshops: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE workshops SET is_active = 1 WHERE id = ?`, workshopID)
	if err != nil {
		return fmt.Errorf("failed to activate workshop: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrWorkshopNotFound
	}

	return tx.Commit()
}

// ActiveWorkshop returns the single active workshop, or ErrNoActiveWorkshop if
// none is published. The date ordering is a defensive fallback for the
// (unreachable) multi-active case and must not be relied upon.
func (db *DB) ActiveWorkshop(ctx context.Context) (*Workshop, error) {
	w, err := scanWorkshop(db.QueryRowContext(ctx, activeWorkshopQuery))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveWorkshop
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active workshop: %w", err)
	}
	return w, nil
}

// ListWorkshops returns every workshop, most recent date first.
func (db *DB) ListWorkshops(ctx context.Context) ([]Workshop, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, date, topic, instructor, time, price, max_participants, is_active, created_at
		FROM workshops ORDER BY date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workshops []Workshop
	for rows.Next() {
		var w Workshop
		if err := rows.Scan(&w.ID, &w.Date, &w.Topic, &w.Instructor, &w.Time,
			&w.Price, &w.MaxParticipants, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, err
		}
		workshops = append(workshops, w)
	}
	return workshops, rows.Err()
}

// CountRegistrations returns the number of registrations for a workshop.
func (db *DB) CountRegistrations(ctx context.Context, workshopID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE workshop_id = ?`, workshopID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

// CreateRegistration registers an attendee for the currently active workshop.
// The active-workshop lookup, capacity check and insert run in one transaction
// so concurrent submissions cannot overbook past max_participants. Returns the
// new registration and the workshop it was booked against.
func (db *DB) CreateRegistration(ctx context.Context, name, email, phone, company, experience string) (*Registration, *Workshop, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	w, err := scanWorkshop(tx.QueryRowContext(ctx, activeWorkshopQuery))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoActiveWorkshop
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query active workshop: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE workshop_id = ?`, w.ID).Scan(&count)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count registrations: %w", err)
	}
	if count >= w.MaxParticipants {
		return nil, nil, ErrWorkshopFull
	}

	code := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO registrations (workshop_id, name, email, phone, company, experience_level, confirmation_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, name, email, phone, company, experience, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert registration: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("failed getting registration id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit tx: %w", err)
	}

	return &Registration{
		ID:               id,
		WorkshopID:       w.ID,
		Name:             name,
		Email:            email,
		Phone:            phone,
		Company:          company,
		ExperienceLevel:  experience,
		ConfirmationCode: code,
		RegistrationDate: time.Now().UTC(),
	}, w, nil
}

// ListRegistrations returns all registrations joined with their workshop's
// topic, date and time, most recent registration first.
func (db *DB) ListRegistrations(ctx context.Context) ([]RegistrationRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.workshop_id, r.name, r.email, r.phone, r.company,
		       r.experience_level, r.confirmation_code, r.registration_date,
		       w.topic, w.date, w.time
		FROM registrations r
		JOIN workshops w ON r.workshop_id = w.id
		ORDER BY r.registration_date DESC, r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RegistrationRecord
	for rows.Next() {
		var rec RegistrationRecord
		if err := rows.Scan(&rec.ID, &rec.WorkshopID, &rec.Name, &rec.Email,
			&rec.Phone, &rec.Company, &rec.ExperienceLevel, &rec.ConfirmationCode,
			&rec.RegistrationDate, &rec.WorkshopTopic, &rec.WorkshopDate,
			&rec.WorkshopTime); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
