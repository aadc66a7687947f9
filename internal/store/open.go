package store

import "fmt"

// Open returns the repository for driver. dataDir is used by the JSON driver,
// dbPath by the SQLite driver.
func Open(driver, dataDir, dbPath string) (Repository, error) {
	switch driver {
	case DriverJSON, "":
		return NewJSON(dataDir), nil
	case DriverSQLite:
		s, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
