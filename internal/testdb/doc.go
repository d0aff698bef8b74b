// Package testdb provides utilities for database integration tests.
//
// Each test runs in its own transaction, which is rolled back when the test
// completes, so tests can run in parallel against one database without
// cleaning up after themselves.
//
// # Basic Usage
//
//	func TestTaskStore(t *testing.T) {
//		db := testdb.GetTestDBWithT(t)
//
//		testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//			s := postgres.NewPostgresTaskStore(tx, nil)
//			// ...
//		})
//	}
//
// Tests are skipped when neither DATABASE_URL nor TASKTRACK_TEST_DB_URL is set.
package testdb
