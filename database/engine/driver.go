// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Driver opens a database of one type.  Open creates the database when it
// does not exist yet.
type Driver struct {
	DbType string
	Open   func(dbPath string) (DB, error)
}

var (
	driversMtx sync.RWMutex
	drivers    = make(map[string]Driver)
)

// AddDriver registers a driver.  Registering a second driver for a type
// already known is an error.
func AddDriver(d Driver) error {
	driversMtx.Lock()
	defer driversMtx.Unlock()

	if _, ok := drivers[d.DbType]; ok {
		return fmt.Errorf("engine: driver %q already registered", d.DbType)
	}
	drivers[d.DbType] = d
	return nil
}

// Open opens the database at dbPath with the driver registered for dbType.
func Open(dbType, dbPath string) (DB, error) {
	driversMtx.RLock()
	d, ok := drivers[dbType]
	driversMtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDbUnknownType, dbType)
	}
	return d.Open(dbPath)
}

// SupportedDBs returns the registered database types in sorted order.
func SupportedDBs() []string {
	driversMtx.RLock()
	defer driversMtx.RUnlock()

	types := make([]string, 0, len(drivers))
	for dbType := range drivers {
		types = append(types, dbType)
	}
	sort.Strings(types)
	return types
}
