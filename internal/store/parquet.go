package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// eventRow is the on-disk parquet schema for a StoredEvent. Doc-type
// specific detail lives in RawJSON verbatim (§4.8 persists every event,
// known or unknown, without requiring a typed column per upstream
// message shape).
type eventRow struct {
	TimestampMs int64  `parquet:"name=timestamp_ms, type=INT64"`
	Source      string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	DocType     string `parquet:"name=doc_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	SessionID   string `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seq         int64  `parquet:"name=seq, type=INT64"`
	Direction   string `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	RawJSON     string `parquet:"name=raw_json, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toRow(ev StoredEvent) eventRow {
	return eventRow{
		TimestampMs: ev.TimestampMs,
		Source:      string(ev.Source),
		DocType:     string(ev.DocType),
		SessionID:   ev.SessionID,
		Seq:         int64(ev.Seq),
		Direction:   string(ev.Direction),
		RawJSON:     string(ev.RawJSON),
	}
}

// docWriter buffers rows for a single doc-type partition and flushes
// them to a date-partitioned parquet file on buffer-size, timer, or
// explicit Flush (§4.8). Each flush writes a brand new file named
// <session>_<seqStart>.parquet so restarts never overwrite a prior
// segment; the file is written under a .tmp name first and renamed into
// place only once WriteStop succeeds, so a crash mid-flush leaves a
// .tmp file that Store.Start rotates aside rather than a corrupt
// .parquet file that looks complete.
type docWriter struct {
	mu sync.Mutex

	root      string
	docType   DocType
	sessionID string

	flushRows   int
	flushPeriod time.Duration

	buffer     []eventRow
	seqStart   uint64
	lastFlush  time.Time
	flushCount int
}

func newDocWriter(root string, docType DocType, sessionID string, flushRows int, flushPeriod time.Duration) *docWriter {
	return &docWriter{
		root:        root,
		docType:     docType,
		sessionID:   sessionID,
		flushRows:   flushRows,
		flushPeriod: flushPeriod,
		lastFlush:   time.Now(),
	}
}

// Append buffers ev, flushing when the buffer reaches flushRows or the
// flushPeriod has elapsed since the last flush.
func (w *docWriter) Append(ev StoredEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) == 0 {
		w.seqStart = ev.Seq
	}
	w.buffer = append(w.buffer, toRow(ev))

	if len(w.buffer) >= w.flushRows || time.Since(w.lastFlush) >= w.flushPeriod {
		return w.flushLocked(false)
	}
	return nil
}

// Flush writes any buffered rows to a new parquet file.
func (w *docWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(false)
}

// FlushTruncated writes buffered rows with the best-effort truncated
// marker when the shutdown deadline (§5) has already expired; errors are
// logged by the caller, not returned, since this is the last chance to
// persist what's in memory.
func (w *docWriter) FlushTruncated() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.flushLocked(true)
}

func (w *docWriter) flushLocked(truncated bool) error {
	if len(w.buffer) == 0 {
		return nil
	}

	date := time.UnixMilli(w.buffer[0].TimestampMs).UTC().Format("2006-01-02")
	dir := filepath.Join(w.root, "events_parquet", "doc_type="+string(w.docType), "date="+date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%d.parquet", w.sessionID, w.seqStart)
	if truncated {
		name = fmt.Sprintf("%s_%d.truncated.parquet", w.sessionID, w.seqStart)
	}
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	if err := writeParquetFile(tmpPath, w.buffer); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, finalPath, err)
	}

	w.buffer = nil
	w.lastFlush = time.Now()
	w.flushCount++
	return nil
}

func writeParquetFile(path string, rows []eventRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}

	pw, err := writer.NewParquetWriter(fw, new(eventRow), 4)
	if err != nil {
		fw.Close()
		return err
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			pw.WriteStop()
			fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
