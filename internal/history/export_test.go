package history

import "context"

func (s *Store) BumpSchemaVersionForTest() error {
	_, err := s.db.ExecContext(context.Background(), "UPDATE schema_version SET version = version + 1")
	return err
}
