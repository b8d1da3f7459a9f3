package registry

import (
	"context"
	"errors"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pg"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Postgres is a registry in a Postgres schema
type Postgres struct {
	conn pg.PoolConn
}

var _ relaypacs.Registry = (*Postgres)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// SchemaName is the Postgres schema holding the registry table
const SchemaName = schema.SchemaName

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPostgres creates the schema and table if they do not exist
func NewPostgres(ctx context.Context, conn pg.PoolConn) (*Postgres, error) {
	self := new(Postgres)
	if conn == nil {
		return nil, httpresponse.ErrInternalError.With("connection is nil")
	}
	self.conn = conn.With("schema", SchemaName).(pg.PoolConn)

	// Create the schema
	if exists, err := pg.SchemaExists(ctx, self.conn, SchemaName); err != nil {
		return nil, err
	} else if !exists {
		if err := pg.SchemaCreate(ctx, self.conn, SchemaName); err != nil {
			return nil, err
		}
	}

	// Bootstrap the table
	if err := self.conn.Tx(ctx, func(conn pg.Conn) error {
		return bootstrap(ctx, conn)
	}); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Seen returns the most recent record for the hash created at or after since,
// or nil if there is none
func (p *Postgres) Seen(ctx context.Context, hash string, since time.Time) (*schema.StudyRecord, error) {
	var row studyRow
	if err := p.conn.Get(ctx, &row, studySince{Hash: hash, Since: since}); errors.Is(err, pg.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	record := schema.StudyRecord(row)
	return &record, nil
}

// Record stores the study hash for an upload. Recording the same upload twice
// is not an error.
func (p *Postgres) Record(ctx context.Context, record schema.StudyRecord) error {
	var row studyRow
	if err := p.conn.Insert(ctx, &row, studyInsert(record)); errors.Is(err, pg.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return nil
}
