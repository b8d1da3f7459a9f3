package registry

import (
	"context"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pg"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type studyRow schema.StudyRecord

type studyInsert schema.StudyRecord

type studySince struct {
	Hash  string
	Since time.Time
}

//////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (s studySince) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if s.Hash == "" {
		return "", httpresponse.ErrBadRequest.With("missing study hash")
	} else {
		bind.Set("hash", s.Hash)
		bind.Set("since", s.Since)
	}

	switch op {
	case pg.Get:
		return studyGet, nil
	default:
		return "", httpresponse.ErrNotImplemented.Withf("studySince operation: %q", op)
	}
}

//////////////////////////////////////////////////////////////////////////////////
// READER

func (r *studyRow) Scan(row pg.Row) error {
	return row.Scan(&r.UploadID, &r.Hash, &r.Owner, &r.CreatedAt)
}

//////////////////////////////////////////////////////////////////////////////////
// WRITER

func (s studyInsert) Insert(bind *pg.Bind) (string, error) {
	if s.UploadID == "" || s.Hash == "" {
		return "", httpresponse.ErrBadRequest.With("study record requires an upload id and hash")
	}
	bind.Set("upload_id", s.UploadID)
	bind.Set("hash", s.Hash)
	bind.Set("owner", s.Owner)
	if s.CreatedAt.IsZero() {
		bind.Set("ts", time.Now())
	} else {
		bind.Set("ts", s.CreatedAt)
	}
	return studyInsertQuery, nil
}

func (s studyInsert) Update(bind *pg.Bind) error {
	return httpresponse.ErrNotImplemented
}

//////////////////////////////////////////////////////////////////////////////////
// SQL

func bootstrap(ctx context.Context, conn pg.Conn) error {
	q := []string{
		studyCreateTable,
		studyCreateIndex,
	}
	for _, query := range q {
		if err := conn.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const (
	studyCreateTable = `
		CREATE TABLE IF NOT EXISTS ${"schema"}."study_upload" (
			"upload_id"  TEXT PRIMARY KEY,                             -- Upload session
			"study_hash" TEXT NOT NULL,                                -- Proxy hash of declared metadata
			"owner"      TEXT NOT NULL DEFAULT '',                     -- Uploading principal
			"ts"         TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP  -- Recorded timestamp
		)
	`
	studyCreateIndex = `
		CREATE INDEX IF NOT EXISTS "study_upload_hash_ts" ON ${"schema"}."study_upload" ("study_hash", "ts" DESC)
	`
	studyInsertQuery = `
		INSERT INTO ${"schema"}."study_upload"
			("upload_id", "study_hash", "owner", "ts")
		VALUES
			(@upload_id, @hash, @owner, @ts)
		ON CONFLICT ("upload_id") DO NOTHING
		RETURNING
			"upload_id", "study_hash", "owner", "ts"
	`
	studyGet = `
		SELECT
			"upload_id", "study_hash", "owner", "ts"
		FROM
			${"schema"}."study_upload"
		WHERE
			"study_hash" = @hash AND "ts" >= @since
		ORDER BY
			"ts" DESC
		LIMIT 1
	`
)
