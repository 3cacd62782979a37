package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Postgres is the durable AuditStore backend. It is wired only when PG_DSN
// is set; a failure here is always logged by the caller and never feeds
// back into the in-memory ride state.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) SaveRide(r AuditRecord) error {
	_, err := p.db.Exec(
		`INSERT INTO ride_audit(ride_id, passenger_conn_id, driver_conn_id, origin_lat, origin_lng, dest_lat, dest_lng, status, fare, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (ride_id) DO NOTHING`,
		r.RideID, r.PassengerConnID, r.DriverConnID, r.OriginLat, r.OriginLng, r.DestLat, r.DestLng, r.Status, r.Fare, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *Postgres) UpdateRide(r AuditRecord) error {
	_, err := p.db.Exec(
		`UPDATE ride_audit SET driver_conn_id=$1, status=$2, fare=$3, updated_at=$4 WHERE ride_id=$5`,
		r.DriverConnID, r.Status, r.Fare, time.Now(), r.RideID)
	return err
}
