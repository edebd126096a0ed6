package postgres

import "context"

// CreateSchema applies all pending migrations.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	return s.Migrate(ctx)
}

// DropSchema drops all btchat tables and the migrations tracking table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DROP TABLE IF EXISTS bt_migrations CASCADE;
		DROP TABLE IF EXISTS bt_request_logs CASCADE;
		DROP TABLE IF EXISTS bt_artifacts CASCADE;
		DROP TABLE IF EXISTS bt_messages CASCADE;
		DROP TABLE IF EXISTS bt_sessions CASCADE;
	`)
	return err
}
