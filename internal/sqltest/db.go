// Package sqltest provides isolated SQL databases for tests. SQLite is
// always available. PostgreSQL, run in a container, is added when the
// integration_test build tag is set.
package sqltest

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"
)

// DBFactory is a function type that creates a new database connection for
// testing purposes. It takes a testing.TB interface to allow for test failure
// when cannot create the database connection, add cleanup logic and create a
// unique and isolated database for each test case.
type DBFactory func(t testing.TB) *sql.DB

// DBTestFunc is a function type that defines the signature for database test
// functions that will be run against different database implementations.
// The driver is the database/sql driver name the factory opens.
type DBTestFunc func(t *testing.T, driver string, dbFactory DBFactory)

// backend is a database implementation tests run against.
type backend struct {
	name      string
	driver    string
	dbFactory DBFactory
}

// backends lists the available implementations. Build tagged files append
// to it.
var backends = []backend{
	{
		name:      "SQLite",
		driver:    "sqlite",
		dbFactory: NewSQLiteDB,
	},
}

// RunDatabaseTest runs the same test function against every available
// database. It creates a new database connection for each test case,
// ensuring that tests are isolated and can run in parallel.
func RunDatabaseTest(t *testing.T, testFunc DBTestFunc) {
	t.Helper()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			testFunc(t, b.driver, b.dbFactory)
		})
	}
}

// deterministicTestID generates a deterministic identifier based on the test
// name. This ensures that Golang test caching works properly by avoiding
// random generations for the database name. We need to use this hash to avoid
// long database names that can be cropped by some database systems.
func deterministicTestID(t testing.TB) string {
	t.Helper()
	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))

	// This should never fail, but we handle it just in case.
	require.NoError(t, err)

	hashed := fmt.Sprintf("%08x", h.Sum32())
	t.Logf("db name hash: %s", hashed)
	return hashed
}
