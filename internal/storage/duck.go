package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/marcboeker/go-duckdb"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// DuckOptions tunes the DuckDB connection.
type DuckOptions struct {
	Threads     int
	MemoryLimit string
}

// DuckArchive stores channel history in a DuckDB file.
type DuckArchive struct {
	db     *sql.DB
	dbPath string
	log    hclog.Logger

	// limits concurrent queries from history views
	querySem chan struct{}
	writeMu  sync.Mutex
}

// NewDuckArchive opens or creates the archive at dbPath. An empty path
// opens an in-memory database.
func NewDuckArchive(dbPath string, opts DuckOptions, logger hclog.Logger) (*DuckArchive, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("archive")
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			address   VARCHAR NOT NULL,
			ts        BIGINT NOT NULL,
			severity  TINYINT NOT NULL,
			connected BOOLEAN NOT NULL,
			val_type  TINYINT NOT NULL,
			val_bool  BOOLEAN,
			val_int   BIGINT,
			val_float DOUBLE,
			val_str   VARCHAR
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_history_addr_ts ON history(address, ts)"); err != nil {
		logger.Warn("index creation failed", "error", err)
	}

	logger.Info("history archive opened", "path", dbPath)
	return &DuckArchive{
		db:       db,
		dbPath:   dbPath,
		log:      logger,
		querySem: make(chan struct{}, 3),
	}, nil
}

// Record appends a batch using the DuckDB appender.
func (d *DuckArchive) Record(ctx context.Context, values []models.ChannelValue) error {
	if len(values) == 0 {
		return nil
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		appender, err := duckdb.NewAppenderFromConn(dConn, "", "history")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, v := range values {
			valType, valBool, valInt, valFloat, valStr := encodeValue(v.Value)
			err := appender.AppendRow(
				v.Address,
				v.Timestamp.UnixMicro(),
				int8(v.Severity),
				v.Connected,
				int8(valType),
				valBool,
				valInt,
				valFloat,
				valStr,
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

// Query returns the newest Limit updates of one channel in the range,
// oldest first.
func (d *DuckArchive) Query(ctx context.Context, q models.HistoryQuery) (*models.HistoryResult, error) {
	select {
	case d.querySem <- struct{}{}:
		defer func() { <-d.querySem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	where := "address = ?"
	args := []interface{}{q.Address}
	if !q.Range.Start.IsZero() {
		where += " AND ts >= ?"
		args = append(args, q.Range.Start.UnixMicro())
	}
	if !q.Range.End.IsZero() {
		where += " AND ts <= ?"
		args = append(args, q.Range.End.UnixMicro())
	}

	var total int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}

	query := `
		SELECT address, ts, severity, connected, val_type, val_bool, val_int, val_float, val_str
		FROM history WHERE ` + where + `
		ORDER BY ts DESC LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, append(args, queryLimit(q.Limit))...)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	entries := make([]models.ChannelValue, 0, 64)
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return &models.HistoryResult{Address: q.Address, Entries: entries, Total: total}, nil
}

// Prune deletes updates older than before.
func (d *DuckArchive) Prune(ctx context.Context, before time.Time) (int, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	res, err := d.db.ExecContext(ctx, "DELETE FROM history WHERE ts < ?", before.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database. The file is kept.
func (d *DuckArchive) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Value type constants
const (
	valTypeBool   = 0
	valTypeInt    = 1
	valTypeFloat  = 2
	valTypeString = 3
	valTypeArray  = 4
	valTypeNone   = 5
)

func encodeValue(val interface{}) (valType int, valBool bool, valInt int64, valFloat float64, valStr string) {
	switch v := val.(type) {
	case nil:
		return valTypeNone, false, 0, 0, ""
	case bool:
		return valTypeBool, v, 0, 0, ""
	case int:
		return valTypeInt, false, int64(v), 0, ""
	case int64:
		return valTypeInt, false, v, 0, ""
	case float64:
		return valTypeFloat, false, 0, v, ""
	case string:
		return valTypeString, false, 0, 0, v
	case []float64, []any:
		b, _ := json.Marshal(v)
		return valTypeArray, false, 0, 0, string(b)
	default:
		return valTypeString, false, 0, 0, fmt.Sprintf("%v", val)
	}
}

func decodeValue(valType int, valBool bool, valInt int64, valFloat float64, valStr string) interface{} {
	switch valType {
	case valTypeNone:
		return nil
	case valTypeBool:
		return valBool
	case valTypeInt:
		return valInt
	case valTypeFloat:
		return valFloat
	case valTypeArray:
		var arr []float64
		if err := json.Unmarshal([]byte(valStr), &arr); err != nil {
			return valStr
		}
		return arr
	default:
		return valStr
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanValue(row scanner) (models.ChannelValue, error) {
	var address string
	var tsUs int64
	var severity, valType int
	var connected bool
	var valBool sql.NullBool
	var valInt sql.NullInt64
	var valFloat sql.NullFloat64
	var valStr sql.NullString

	err := row.Scan(&address, &tsUs, &severity, &connected, &valType, &valBool, &valInt, &valFloat, &valStr)
	if err != nil {
		return models.ChannelValue{}, err
	}
	return models.ChannelValue{
		Address:   address,
		Timestamp: time.UnixMicro(tsUs),
		Severity:  models.Severity(severity),
		Connected: connected,
		Value:     decodeValue(valType, valBool.Bool, valInt.Int64, valFloat.Float64, valStr.String),
	}, nil
}
