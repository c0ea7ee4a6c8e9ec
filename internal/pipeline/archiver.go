package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/snapshot"
)

const (
	listPrefix    = "markets/"
	detailsPrefix = "details/"
	detailKeys    = "cg_detail_"
	manifestPath  = "latest.json"
)

// ArchiveResult counts what one archive run uploaded.
type ArchiveResult struct {
	ListPath    string
	DetailsPath string
	Details     int
}

// Archiver copies snapshots to object storage and restores them on a cold
// start. The market list is stored as one JSON object per run under
// markets/YYYY/MM/DD/HHMMSS.json; detail snapshots are bundled as JSON lines
// under details/YYYY/MM/DD/HHMMSS.jsonl.
type Archiver struct {
	cache  *snapshot.Cache
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver. reader may be nil when restore is not
// wanted.
func NewArchiver(cache *snapshot.Cache, writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *Archiver {
	return &Archiver{
		cache:  cache,
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "archiver")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// manifest points at the objects written by the most recent run.
type manifest struct {
	List    string    `json:"list,omitempty"`
	Details string    `json:"details,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

type archivedEntry struct {
	Key   string          `json:"key"`
	Entry json.RawMessage `json:"entry"`
}

// Run uploads the current list snapshot and every detail snapshot, then
// points the manifest at them.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	res, err := a.upload(ctx)
	if err != nil || (res.ListPath == "" && res.DetailsPath == "") {
		return res, err
	}

	body, err := json.Marshal(manifest{List: res.ListPath, Details: res.DetailsPath, SavedAt: a.now()})
	if err != nil {
		return res, fmt.Errorf("archiver: encode manifest: %w", err)
	}
	if err := a.writer.Put(ctx, manifestPath, bytes.NewReader(body), "application/json"); err != nil {
		return res, fmt.Errorf("archiver: upload manifest: %w", err)
	}
	return res, nil
}

func (a *Archiver) upload(ctx context.Context) (ArchiveResult, error) {
	var res ArchiveResult
	stamp := a.now().Format("2006/01/02/150405")

	if raw, ok := a.cache.Raw(ctx, snapshot.HomeKey().String()); ok {
		path := listPrefix + stamp + ".json"
		if err := a.writer.Put(ctx, path, bytes.NewReader(raw), "application/json"); err != nil {
			return res, fmt.Errorf("archiver: upload list: %w", err)
		}
		res.ListPath = path
	}

	keys, err := a.cache.Keys(ctx, detailKeys)
	if errors.Is(err, snapshot.ErrNotListable) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("archiver: list detail snapshots: %w", err)
	}

	entries := make([]archivedEntry, 0, len(keys))
	for _, k := range keys {
		if raw, ok := a.cache.Raw(ctx, k); ok {
			entries = append(entries, archivedEntry{Key: k, Entry: raw})
		}
	}
	if len(entries) == 0 {
		return res, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return res, fmt.Errorf("archiver: encode details: %w", err)
	}
	path := detailsPrefix + stamp + ".jsonl"
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return res, fmt.Errorf("archiver: upload details: %w", err)
	}
	res.DetailsPath = path
	res.Details = len(entries)
	return res, nil
}

// Restore seeds an empty cache from the latest archive. It returns the
// number of snapshots restored. A cache that already holds a market list is
// left alone.
func (a *Archiver) Restore(ctx context.Context) (int, error) {
	if a.reader == nil || a.cache.Has(ctx, snapshot.HomeKey()) {
		return 0, nil
	}

	m, err := a.locate(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0

	body, err := a.read(ctx, m.List)
	if err != nil {
		return 0, err
	}
	if body != nil && a.cache.Restore(ctx, snapshot.HomeKey().String(), body) {
		restored++
	}

	body, err = a.read(ctx, m.Details)
	if err != nil {
		return restored, err
	}
	if body == nil {
		return restored, nil
	}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for sc.Scan() {
		var e archivedEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || !strings.HasPrefix(e.Key, detailKeys) {
			continue
		}
		if a.cache.Restore(ctx, e.Key, e.Entry) {
			restored++
		}
	}
	if err := sc.Err(); err != nil {
		return restored, fmt.Errorf("archiver: read details archive: %w", err)
	}
	return restored, nil
}

// locate finds the newest archive. The manifest is authoritative; without a
// readable one the newest object under each prefix is used.
func (a *Archiver) locate(ctx context.Context) (manifest, error) {
	ok, err := a.reader.Exists(ctx, manifestPath)
	if err != nil {
		return manifest{}, fmt.Errorf("archiver: check manifest: %w", err)
	}
	if ok {
		body, err := a.read(ctx, manifestPath)
		if err != nil {
			return manifest{}, err
		}
		var m manifest
		if err := json.Unmarshal(body, &m); err == nil {
			return m, nil
		}
		a.logger.WarnContext(ctx, "archive manifest unreadable, scanning prefixes",
			slog.String("path", manifestPath),
		)
	}

	var m manifest
	if m.List, err = a.newest(ctx, listPrefix); err != nil {
		return manifest{}, err
	}
	if m.Details, err = a.newest(ctx, detailsPrefix); err != nil {
		return manifest{}, err
	}
	return m, nil
}

// newest returns the path of the newest object under prefix, or "" when
// there is none. Paths sort chronologically.
func (a *Archiver) newest(ctx context.Context, prefix string) (string, error) {
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("archiver: list %s: %w", prefix, err)
	}
	if len(infos) == 0 {
		return "", nil
	}
	return slices.MaxFunc(infos, func(x, y domain.BlobInfo) int { return strings.Compare(x.Path, y.Path) }).Path, nil
}

// read returns the body stored at path; an empty path reads nothing.
func (a *Archiver) read(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("archiver: get %s: %w", path, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("archiver: read %s: %w", path, err)
	}
	return body, nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week") until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(a.now())
		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next run",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			res, err := a.Run(ctx)
			if err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
				continue
			}
			a.logger.Info("archive run complete",
				slog.String("list", res.ListPath),
				slog.String("details", res.DetailsPath),
				slog.Int("detail_count", res.Details),
			)
		}
	}
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
