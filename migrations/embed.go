// Package migrations embeds the BigQuery schema migrations.
package migrations

import "embed"

// BigQuery holds the files under bigquery/, named NNNN_name.sql.
//
//go:embed bigquery/*.sql
var BigQuery embed.FS
