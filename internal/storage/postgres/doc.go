// Package postgres implements durable storage on PostgreSQL using pgx: the
// hold backend and the CRM repository. Schema changes ship as embedded SQL
// migrations applied by Migrate.
package postgres
