// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sa

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/letsencrypt/borp"

	"github.com/i-bosquet/petconnect/core"
)

// NewDbMap creates the root borp mapping object against a MySQL DSN and
// maps the tables of the storage authority.
func NewDbMap(dbConnect string, maxOpenConns int) (*borp.DbMap, error) {
	config, err := mysql.ParseDSN(dbConnect)
	if err != nil {
		return nil, err
	}
	// Timestamp columns scan into time.Time only when the driver parses
	// time values.
	config.ParseTime = true

	db, err := sql.Open("mysql", config.FormatDSN())
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)

	dbMap := &borp.DbMap{Db: db, Dialect: borp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8"}}
	initTables(dbMap)
	return dbMap, nil
}

// initTables constructs the table map for the ORM. The two unique
// indexes on certificates (certificateNumber, medicalRecordID) are the
// concurrency backstop for issuance; they are created by migrations, not
// here.
func initTables(dbMap *borp.DbMap) {
	dbMap.AddTableWithName(recordModel{}, "records").SetKeys(true, "ID")
	dbMap.AddTableWithName(certificateModel{}, "certificates").SetKeys(true, "ID")
	dbMap.AddTableWithName(core.Pet{}, "pets").SetKeys(true, "ID")
	dbMap.AddTableWithName(core.Vet{}, "vets").SetKeys(true, "ID")
	dbMap.AddTableWithName(core.Clinic{}, "clinics").SetKeys(true, "ID")
}
