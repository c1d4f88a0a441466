// Package tracing records the stores committed by harts into a SQLite
// database for later inspection. It drains the memory's per-hart
// last-write records.
package tracing

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/luckidea/SweRV-ISS/mem"
)

// A StoreRecord is one committed store of one hart.
type StoreRecord struct {
	Seq   int64
	Hart  int
	Addr  uint64
	Size  uint64
	Value uint64
	Prev  uint64
}

// A Recorder is a buffered writer of store records into a SQLite database.
type Recorder struct {
	db        *sql.DB
	statement *sql.Stmt

	dbPath    string
	buffered  []StoreRecord
	batchSize int
	seq       int64
}

// NewRecorder creates a recorder writing to the database at path. An empty
// path picks a fresh generated name. The buffer is flushed at process
// exit.
func NewRecorder(path string) *Recorder {
	r := &Recorder{
		dbPath:    path,
		batchSize: 100000,
	}

	atexit.Register(func() { r.Flush() })

	return r
}

// Init establishes the database connection and creates the trace table.
func (r *Recorder) Init() error {
	if r.dbPath == "" {
		r.dbPath = "whisper_trace_" + xid.New().String() + ".sqlite3"
	}

	if _, err := os.Stat(r.dbPath); err == nil {
		return fmt.Errorf("trace database %s already exists", r.dbPath)
	}

	db, err := sql.Open("sqlite3", r.dbPath)
	if err != nil {
		return fmt.Errorf("trace database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE stores (
		seq   INTEGER,
		hart  INTEGER,
		addr  INTEGER,
		size  INTEGER,
		value INTEGER,
		prev  INTEGER
	)`)
	if err != nil {
		db.Close()
		return fmt.Errorf("trace database: %w", err)
	}

	stmt, err := db.Prepare(
		"INSERT INTO stores VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		db.Close()
		return fmt.Errorf("trace database: %w", err)
	}

	r.db = db
	r.statement = stmt

	fmt.Fprintf(os.Stderr, "Store trace database: %s\n", r.dbPath)

	return nil
}

// Path returns the database path, which is known after Init.
func (r *Recorder) Path() string { return r.dbPath }

// RecordStore buffers one store record.
func (r *Recorder) RecordStore(hart int, addr, size, value, prev uint64) {
	r.seq++
	r.buffered = append(r.buffered, StoreRecord{
		Seq:   r.seq,
		Hart:  hart,
		Addr:  addr,
		Size:  size,
		Value: value,
		Prev:  prev,
	})

	if len(r.buffered) >= r.batchSize {
		r.Flush()
	}
}

// CaptureLastWrite drains the hart's last-write record into the trace and
// clears it. It reports whether the hart had an unrecorded store.
func (r *Recorder) CaptureLastWrite(core mem.CoreServices, hart int) bool {
	size, addr, value := core.LastWriteNew(hart)
	if size == 0 {
		return false
	}
	_, _, prev := core.LastWritePrev(hart)

	r.RecordStore(hart, addr, size, value, prev)
	core.ClearLastWrite(hart)

	return true
}

func (r *Recorder) mustExecute(query string) {
	if _, err := r.db.Exec(query); err != nil {
		panic(err)
	}
}

// Flush writes all buffered records to the database.
func (r *Recorder) Flush() {
	if r.db == nil || len(r.buffered) == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	for _, rec := range r.buffered {
		_, err := r.statement.Exec(
			rec.Seq,
			rec.Hart,
			int64(rec.Addr),
			int64(rec.Size),
			int64(rec.Value),
			int64(rec.Prev),
		)
		if err != nil {
			panic(err)
		}
	}

	r.buffered = nil
}

// Close flushes buffered records and closes the database.
func (r *Recorder) Close() {
	if r.db == nil {
		return
	}
	r.Flush()
	r.statement.Close()
	r.db.Close()
	r.db = nil
}
