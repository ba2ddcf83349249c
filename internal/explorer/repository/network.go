// Package repository executes explorer and scoring queries against
// PostgreSQL/PostGIS.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shadowcheck/shadowcheck/internal/explorer/model"
	"github.com/shadowcheck/shadowcheck/internal/query"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// NetworkRepository runs assembled explorer queries.
type NetworkRepository struct {
	db *pgxpool.Pool
}

// NewNetworkRepository creates a new NetworkRepository.
func NewNetworkRepository(db *pgxpool.Pool) *NetworkRepository {
	return &NetworkRepository{db: db}
}

// ListNetworks executes a query built by query.NetworkList.
func (r *NetworkRepository) ListNetworks(ctx context.Context, q query.Query) ([]model.Network, error) {
	rows, err := r.db.Query(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	defer rows.Close()

	networks := []model.Network{}
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		networks = append(networks, n)
	}
	return networks, rows.Err()
}

// CountNetworks executes a query built by query.NetworkCount.
func (r *NetworkRepository) CountNetworks(ctx context.Context, q query.Query) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, q.SQL(), q.Args()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count networks: %w", err)
	}
	return n, nil
}

// ListObservations executes a query built by query.ObservationList.
func (r *NetworkRepository) ListObservations(ctx context.Context, q query.Query) ([]model.Observation, error) {
	rows, err := r.db.Query(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	observations := []model.Observation{}
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(
			&o.ID, &o.BSSID, &o.SSID, &o.Latitude, &o.Longitude, &o.ObservedAt,
			&o.SignalDBM, &o.Frequency, &o.GPSAccuracyM,
			&o.Type, &o.Security, &o.Channel,
			&o.ThreatScore, &o.ThreatLevel,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// GetNetwork returns a single access point with its derived fields.
func (r *NetworkRepository) GetNetwork(ctx context.Context, bssid string) (*model.Network, error) {
	q, err := query.NetworkByBSSID(bssid)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("get network: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	n, err := scanNetwork(rows)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// scanNetwork reads one row in query.NetworkColumns order.
func scanNetwork(row pgx.Row) (model.Network, error) {
	var n model.Network
	err := row.Scan(
		&n.BSSID, &n.SSID, &n.Manufacturer,
		&n.Type, &n.Frequency, &n.Channel, &n.Band,
		&n.Security, &n.Auth, &n.Capabilities,
		&n.FirstSeenAt, &n.LastSeenAt,
		&n.ObservationCount, &n.UniqueDays, &n.UniqueLocations, &n.MaxSignalDBM,
		&n.DistanceFromHomeKm, &n.MaxDistanceFromHomeKm,
		&n.SeenAtHome, &n.SeenAwayFromHome,
		&n.Latitude, &n.Longitude, &n.StationaryConfidence,
		&n.ThreatScore, &n.ThreatLevel, &n.ModelVersion, &n.ScoredAt,
	)
	if err != nil {
		return n, fmt.Errorf("scan network: %w", err)
	}
	return n, nil
}
