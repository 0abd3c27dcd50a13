// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"database/sql"
	"fmt"
)

// SQLConfig configures the relational database connection.
type SQLConfig struct {
	// Driver is "sqlite", "postgres" or "mysql" (default: sqlite).
	Driver string `yaml:"driver,omitempty"`

	// Path is the database file path for sqlite (default: ./data/corpus.db).
	Path string `yaml:"path,omitempty"`

	// Host/Port/Database/Username/Password for postgres and mysql.
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// SSLMode for postgres (default: disable).
	SSLMode string `yaml:"ssl_mode,omitempty"`

	// MaxOpenConns limits the connection pool (default: 10).
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

// SetDefaults applies default values.
func (c *SQLConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Path == "" {
		c.Path = "./data/corpus.db"
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
}

// Validate checks the configuration for errors.
func (c *SQLConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres", "mysql":
		if c.Host == "" {
			return fmt.Errorf("%s host is required", c.Driver)
		}
		if c.Database == "" {
			return fmt.Errorf("%s database name is required", c.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %q (use sqlite, postgres, or mysql)", c.Driver)
	}
	return nil
}

// DriverName returns the database/sql driver name for the configured driver.
func (c *SQLConfig) DriverName() string {
	switch c.Driver {
	case "sqlite":
		return "sqlite3"
	default:
		return c.Driver
	}
}

// ConnectionString builds the DSN for the configured driver.
func (c *SQLConfig) ConnectionString() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	default:
		return c.Path
	}
}

// Open opens a database handle with the configured pool size.
// The caller is responsible for closing it.
func (c *SQLConfig) Open() (*sql.DB, error) {
	db, err := sql.Open(c.DriverName(), c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	return db, nil
}
