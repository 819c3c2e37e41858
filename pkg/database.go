package fastcounter

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

// DeviceProfile holds the per-card values that are measured on the hardware
// rather than chosen by the user.
type DeviceProfile struct {
	Serial           string `db:"Serial"`
	Model            string `db:"Model"`
	CapacitySamples  int64  `db:"CapacitySamples"`
	MaxRepsPerBuffer int    `db:"MaxRepsPerBuffer"`
	Alignment        int    `db:"Alignment"`
	GateCounting     string `db:"GateCounting"`
	RangeMV          int    `db:"RangeMV"`
}

const profileColumns = "Serial, Model, CapacitySamples, MaxRepsPerBuffer, Alignment, GateCounting, RangeMV"

// ErrDeviceNotFound represents a card serial without a stored profile.
type ErrDeviceNotFound struct {
	Serial string
}

func (e *ErrDeviceNotFound) Error() string {
	return fmt.Sprintf("no device profile for serial %q", e.Serial)
}

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

func LoadDeviceProfile(db *sqlx.DB, serial string) (DeviceProfile, error) {
	query := "SELECT " + profileColumns + " FROM DeviceProfiles WHERE Serial = ?"
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading device profile for %s from database", serial), "database")
	}
	if configuration.Verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s", query), "database")
	}

	rows, err := db.Queryx(query, serial)
	if err != nil {
		return DeviceProfile{}, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		profile := DeviceProfile{}
		if err := rows.StructScan(&profile); err != nil {
			return DeviceProfile{}, fmt.Errorf("error scanning DB row: %w", err)
		}
		return profile, nil
	}
	if err := rows.Err(); err != nil {
		return DeviceProfile{}, fmt.Errorf("error reading DB rows: %w", err)
	}
	return DeviceProfile{}, &ErrDeviceNotFound{Serial: serial}
}

func ListDeviceProfiles(db *sqlx.DB) (map[string]DeviceProfile, error) {
	query := "SELECT " + profileColumns + " FROM DeviceProfiles"
	rows, err := db.Queryx(query)
	if err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]DeviceProfile)
	for rows.Next() {
		profile := DeviceProfile{}
		if err := rows.StructScan(&profile); err != nil {
			return nil, fmt.Errorf("error scanning DB row: %w", err)
		}
		profiles[profile.Serial] = profile
	}
	return profiles, rows.Err()
}

// ApplyProfile overrides the hardware-dependent fields of config. The
// user's max repetitions per buffer is kept when it is the smaller one.
func ApplyProfile(config Configuration, p DeviceProfile) (Configuration, error) {
	counting, err := ParseGateCounting(p.GateCounting)
	if err != nil {
		return config, &ErrConfiguration{Field: "GateCounting", Reason: fmt.Sprintf("device %s: %v", p.Serial, err)}
	}
	if p.CapacitySamples > 0 {
		config.BufferSizeSamples = p.CapacitySamples
	}
	if p.MaxRepsPerBuffer > 0 && p.MaxRepsPerBuffer < config.MaxRepsPerBuffer {
		config.MaxRepsPerBuffer = p.MaxRepsPerBuffer
	}
	if p.Alignment > 0 {
		config.Alignment = p.Alignment
	}
	if p.RangeMV > 0 {
		config.RangeMV = p.RangeMV
	}
	config.GateCounting = counting
	return config, nil
}
