package database

import (
	"fmt"

	"github.com/Amund211/wpaccount/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const DB_NAME = "wpaccount"

const LOCAL_CONNECTION_STRING = "user=postgres password=postgres dbname=wpaccount sslmode=disable"

const MAIN_SCHEMA = "wpaccount"
const TESTING_SCHEMA = "wpaccount_test"

func GetSchemaName(isTesting bool) string {
	if isTesting {
		return TESTING_SCHEMA
	}
	return MAIN_SCHEMA
}

func GetCloudSQLConnectionString(username, password, unixSocketPath string) string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s",
		quoteConnectionValue(username),
		quoteConnectionValue(password),
		DB_NAME,
		quoteConnectionValue(unixSocketPath),
	)
}

// Quote a value for a libpq key=value connection string
func quoteConnectionValue(value string) string {
	escaped := make([]byte, 0, len(value)+2)
	escaped = append(escaped, '\'')
	for i := 0; i < len(value); i++ {
		if value[i] == '\'' || value[i] == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, value[i])
	}
	escaped = append(escaped, '\'')
	return string(escaped)
}

func NewPostgresDatabase(connectionString string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	err = createDatabaseIfNotExists(db, DB_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return db, nil
}

// NewCloudsqlPostgresDatabase connects to the local database in development,
// and to Cloud SQL over its unix socket otherwise
func NewCloudsqlPostgresDatabase(conf config.Config) (*sqlx.DB, error) {
	var connectionString string
	if conf.IsDevelopment() {
		connectionString = LOCAL_CONNECTION_STRING
	} else {
		connectionString = GetCloudSQLConnectionString(conf.DBUsername(), conf.DBPassword(), conf.CloudSQLUnixSocketPath())
	}

	db, err := NewPostgresDatabase(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres database: %w", err)
	}

	return db, nil
}

func createDatabaseIfNotExists(db *sqlx.DB, dbName string) error {
	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM pg_database WHERE datname = $1", dbName)
	if err != nil {
		return fmt.Errorf("createDB: failed to check if database exists: %w", err)
	}

	if count > 0 {
		return nil
	}

	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		return fmt.Errorf("createDB: failed to create database: %w", err)
	}

	return nil
}
