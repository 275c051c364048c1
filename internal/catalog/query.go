package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// OpenQueryConn opens a SQL-level connection for catalog reporting.
func OpenQueryConn(host, database, user, password string) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{host},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connection failed: %w", err)
	}
	return conn, nil
}

// QueryOverlaps reports shared timestamps from the ingested catalog instead
// of rescanning the filesystem.
func QueryOverlaps(ctx context.Context, conn driver.Conn, tableFQN string, minCount int) ([]Overlap, error) {
	query := fmt.Sprintf(`SELECT
		formatDateTime(time, '%%Y-%%m-%%dT%%H%%M%%S') AS stamp,
		arraySort(groupUniqArray(event)) AS events
	FROM %s
	GROUP BY stamp
	HAVING length(events) >= %d
	ORDER BY length(events) DESC, stamp ASC`, tableFQN, minCount)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("overlap query failed: %w", err)
	}
	defer rows.Close()

	var out []Overlap
	for rows.Next() {
		var o Overlap
		if err := rows.Scan(&o.Stamp, &o.Events); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
