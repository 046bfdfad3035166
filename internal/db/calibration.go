package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/facelock/internal/servo"
)

// SaveCalibration stores the operator's chosen rest duty for each axis.
func (db *DB) SaveCalibration(ctx context.Context, duties map[servo.Axis]int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := unixSeconds(time.Now())
	for _, axis := range servo.Axes {
		duty, ok := duties[axis]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calibrations (axis, duty, saved_unix) VALUES (?, ?, ?)`,
			axis.String(), servo.Clamp(duty), now); err != nil {
			return fmt.Errorf("failed to save %s calibration: %w", axis, err)
		}
	}
	return tx.Commit()
}

// LoadCalibration returns the latest saved duty per axis. Axes never
// calibrated are absent from the map.
func (db *DB) LoadCalibration(ctx context.Context) (map[servo.Axis]int, error) {
	out := make(map[servo.Axis]int, len(servo.Axes))
	for _, axis := range servo.Axes {
		var duty int
		err := db.QueryRowContext(ctx,
			`SELECT duty FROM calibrations WHERE axis = ?
			 ORDER BY saved_unix DESC, calibration_id DESC LIMIT 1`, axis.String()).Scan(&duty)
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, fmt.Errorf("failed to load %s calibration: %w", axis, err)
		}
		out[axis] = duty
	}
	return out, nil
}
