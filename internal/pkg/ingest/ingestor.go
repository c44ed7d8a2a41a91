// Package ingest turns uploaded e-books and comic archives into the storage
// layout and chapter/page index read by the locator.
//
// An asset becomes visible only when every object of the revision has been
// written: the index and the ready status are committed in one transaction.
// When a book already has ready content, the new revision is written under a
// staging prefix and promoted to the canonical keys after it has been published.
package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

const maxErrorMessage = 1000

type Ingestor struct {
	assets  repository.AssetRepository
	store   storage.ObjectStore
	limits  Limits
	cleaner Cleaner
	indexes IndexObserver
}

// IndexObserver is told when the stored keys of an asset change or the asset goes away.
type IndexObserver interface {
	Invalidate(ctx context.Context, assetUUID string, revision int) error
}

func NewIngestor(assets repository.AssetRepository, store storage.ObjectStore, limits Limits) *Ingestor {
	if limits.UploadWorkers <= 0 {
		limits.UploadWorkers = defaultUploadWorkers
	}
	return &Ingestor{
		assets:  assets,
		store:   store,
		limits:  limits,
		cleaner: InlineCleaner{Store: store},
	}
}

// WithCleaner replaces the inline deletion of superseded objects, e.g. with a background job.
func (in *Ingestor) WithCleaner(c Cleaner) *Ingestor {
	in.cleaner = c
	return in
}

// WithIndexObserver registers a cache of asset indexes to invalidate.
func (in *Ingestor) WithIndexObserver(o IndexObserver) *Ingestor {
	in.indexes = o
	return in
}

func (in *Ingestor) invalidate(ctx context.Context, assetUUID string, revision int) {
	if in.indexes == nil {
		return
	}
	if err := in.indexes.Invalidate(ctx, assetUUID, revision); err != nil {
		log.Warnf("[Ingest] Could not invalidate index of asset %s: %v", assetUUID, err)
	}
}

// Pending is an accepted upload whose asset row exists in the uploading state.
// It is serialisable so processing can continue on a background worker.
type Pending struct {
	AssetUUID string      `json:"asset_uuid"`
	BookID    uint        `json:"book_id"`
	Kind      ArchiveKind `json:"kind"`
	Ext       string      `json:"ext"`
	SpoolPath string      `json:"spool_path,omitempty"`
	Reused    bool        `json:"reused"`
}

// Discard removes the spooled upload.
func (p *Pending) Discard() {
	if p.SpoolPath != "" {
		os.Remove(p.SpoolPath)
		p.SpoolPath = ""
	}
}

type Result struct {
	AssetUUID string             `json:"asset_uuid"`
	Status    models.AssetStatus `json:"status"`
	Reused    bool               `json:"reused"`
	PageCount int                `json:"page_count"`
}

// Ingest validates, stores and publishes an upload in one call.
func (in *Ingestor) Ingest(ctx context.Context, bookID uint, r io.Reader, kind ArchiveKind, filename string) (*Result, error) {
	p, err := in.Prepare(ctx, bookID, r, kind, filename)
	if err != nil {
		return nil, err
	}
	return in.Process(ctx, p)
}

// Prepare spools and validates the upload and creates the uploading asset row.
// Archive problems that can be seen from the zip directory are reported here,
// before any row is written. Identical content that is already ready yields a
// reused Pending without a new row.
func (in *Ingestor) Prepare(ctx context.Context, bookID uint, r io.Reader, kind ArchiveKind, filename string) (*Pending, error) {
	if bookID == 0 {
		return nil, apperr.New(apperr.CodeValidation, "book id is required")
	}
	ext, err := checkExtension(kind, filename)
	if err != nil {
		return nil, err
	}
	sp, err := spool(ctx, r, in.limits)
	if err != nil {
		return nil, err
	}
	pending := &Pending{BookID: bookID, Kind: kind, Ext: ext, SpoolPath: sp.path}
	accepted := false
	defer func() {
		if !accepted {
			pending.Discard()
		}
	}()

	if kind.zipped() {
		if err := in.precheck(kind, sp.path); err != nil {
			return nil, err
		}
	}

	ready, err := in.assets.FindReady(ctx, bookID)
	switch {
	case err == nil && ready.ContentHash == sp.hash:
		log.Infof("[Ingest] Book %d already serves asset %s with identical content", bookID, ready.UUID)
		return &Pending{AssetUUID: ready.UUID, BookID: bookID, Kind: kind, Ext: ext, Reused: true}, nil
	case err != nil && !apperr.HasCode(err, apperr.CodeNotFound):
		return nil, err
	}

	asset, err := in.claim(ctx, bookID, kind, filename, sp)
	if err != nil {
		return nil, err
	}
	pending.AssetUUID = asset.UUID
	accepted = true
	log.Infof("[Ingest] Accepted %s upload %q for book %d as asset %s (%d bytes)", kind, filename, bookID, asset.UUID, sp.size)
	return pending, nil
}

// claim creates the uploading row, or reopens a failed attempt with the same content.
func (in *Ingestor) claim(ctx context.Context, bookID uint, kind ArchiveKind, filename string, sp *spooled) (*models.EbookAsset, error) {
	latest, err := in.assets.Latest(ctx, bookID)
	switch {
	case err == nil && latest.Status == models.AssetStatusUploading:
		if time.Since(latest.UpdatedAt) < in.limits.StaleAfter {
			return nil, apperr.Newf(apperr.CodeStateConflict, "asset %s for book %d is still being ingested", latest.UUID, bookID)
		}
		if _, err := in.assets.Transition(ctx, latest.ID, models.AssetStatusUploading, models.AssetStatusFailed, "ingestion abandoned"); err != nil {
			return nil, err
		}
	case err != nil && !apperr.HasCode(err, apperr.CodeNotFound):
		return nil, err
	}

	prev, err := in.assets.FindByHash(ctx, bookID, sp.hash)
	switch {
	case err == nil && prev.Status == models.AssetStatusFailed && prev.Kind == kind.assetKind():
		reopened, err := in.assets.Transition(ctx, prev.ID, models.AssetStatusFailed, models.AssetStatusUploading, "")
		if err != nil {
			return nil, err
		}
		if reopened {
			log.Infof("[Ingest] Retrying failed asset %s for book %d", prev.UUID, bookID)
			prev.Status = models.AssetStatusUploading
			prev.ErrorMessage = ""
			return prev, nil
		}
	case err != nil && !apperr.HasCode(err, apperr.CodeNotFound):
		return nil, err
	}

	asset := &models.EbookAsset{
		BookID:           bookID,
		Kind:             kind.assetKind(),
		Status:           models.AssetStatusUploading,
		StorageRoot:      Root(bookID),
		OriginalFilename: filepath.Base(filename),
		ContentHash:      sp.hash,
		SizeBytes:        sp.size,
	}
	if err := in.assets.Create(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (in *Ingestor) precheck(kind ArchiveKind, spoolPath string) error {
	zr, err := openZip(spoolPath)
	if err != nil {
		return err
	}
	defer zr.Close()
	if err := inspect(zr.File, in.limits); err != nil {
		return err
	}
	if kind == KindCbz {
		_, err = planComic(zr.File)
	} else {
		_, err = pickEbook(zr.File)
	}
	return err
}

// Process writes the objects of a prepared upload and publishes the asset.
// On any error, including cancellation, the asset is marked failed and the
// previously ready asset of the book stays untouched.
func (in *Ingestor) Process(ctx context.Context, p *Pending) (*Result, error) {
	if p.Reused {
		return &Result{AssetUUID: p.AssetUUID, Status: models.AssetStatusReady, Reused: true}, nil
	}
	defer p.Discard()

	asset, err := in.assets.GetByUUID(ctx, p.AssetUUID)
	if err != nil {
		return nil, err
	}
	if asset.Status != models.AssetStatusUploading {
		return nil, apperr.Newf(apperr.CodeStateConflict, "asset %s is %s, not uploading", asset.UUID, asset.Status)
	}

	start := time.Now()
	if err := in.process(ctx, asset, p); err != nil {
		in.fail(asset, err)
		return nil, err
	}
	log.Infof("[Ingest] Asset %s for book %d is ready (%d pages) in %v", asset.UUID, asset.BookID, asset.PageCount, time.Since(start).Round(time.Millisecond))
	return &Result{AssetUUID: asset.UUID, Status: asset.Status, PageCount: asset.PageCount}, nil
}

func (in *Ingestor) process(ctx context.Context, asset *models.EbookAsset, p *Pending) error {
	if p.SpoolPath == "" {
		return errors.New("spooled upload is missing")
	}
	previous, err := in.assets.FindReady(ctx, asset.BookID)
	if err != nil {
		if !apperr.HasCode(err, apperr.CodeNotFound) {
			return err
		}
		previous = nil
	}

	prefix := Root(asset.BookID) + "/"
	if previous != nil {
		prefix = stagingPrefix(asset.BookID, asset.UUID)
	}
	w := newWriter(in.store, asset.BookID, prefix)

	var chapters []models.Chapter
	switch p.Kind {
	case KindSingleFile:
		err = in.storeSingle(ctx, w, asset, p)
	case KindZippedSingleFile:
		err = in.storeZipped(ctx, w, asset, p)
	case KindCbz:
		chapters, err = in.storeComic(ctx, w, asset, p)
	default:
		err = apperr.Newf(apperr.CodeValidation, "unknown archive kind %q", p.Kind)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		w.discard(ctx)
		return err
	}

	var replaceID uint
	var superseded []string
	if previous != nil {
		replaceID = previous.ID
		if superseded, err = in.assetKeys(ctx, previous); err != nil {
			w.discard(ctx)
			return err
		}
	}
	if err := in.assets.Publish(ctx, asset, chapters, replaceID); err != nil {
		w.discard(ctx)
		return err
	}
	if w.staged() {
		in.promote(ctx, asset, w, superseded)
	}
	return nil
}

func (in *Ingestor) storeSingle(ctx context.Context, w *writer, asset *models.EbookAsset, p *Pending) error {
	f, err := os.Open(p.SpoolPath)
	if err != nil {
		return fmt.Errorf("open spooled upload: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	head, _, err := peek(f)
	if err != nil {
		return err
	}
	contentType, err := sniffEbook(asset.OriginalFilename, p.Ext, head)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	key, err := w.put(ctx, "original"+p.Ext, f, fi.Size(), contentType)
	if err != nil {
		return err
	}
	asset.OriginalKey = key
	return nil
}

// pickEbook returns the single e-book entry of a zipped upload.
func pickEbook(files []*zip.File) (*zip.File, error) {
	var candidates []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() || ignored(f.Name) {
			continue
		}
		if ebookExt[strings.ToLower(path.Ext(f.Name))] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) != 1 {
		return nil, apperr.Newf(apperr.CodeAmbiguousArchive, "archive must contain exactly one .pdf or .epub file, found %d", len(candidates))
	}
	return candidates[0], nil
}

func (in *Ingestor) storeZipped(ctx context.Context, w *writer, asset *models.EbookAsset, p *Pending) error {
	zr, err := openZip(p.SpoolPath)
	if err != nil {
		return err
	}
	defer zr.Close()
	if err := inspect(zr.File, in.limits); err != nil {
		return err
	}
	entry, err := pickEbook(zr.File)
	if err != nil {
		return err
	}
	ext := strings.ToLower(path.Ext(entry.Name))
	rc, err := entry.Open()
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidFormat, "open "+entry.Name, err)
	}
	defer rc.Close()
	head, body, err := peek(rc)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidFormat, "read "+entry.Name, err)
	}
	contentType, err := sniffEbook(entry.Name, ext, head)
	if err != nil {
		return err
	}
	key, err := w.put(ctx, "original"+ext, body, int64(entry.UncompressedSize64), contentType)
	if err != nil {
		return err
	}
	asset.OriginalKey = key
	return nil
}

type chapterPlan struct {
	name  string
	pages []*zip.File
}

// planComic groups image entries by their top-level directory and orders
// chapters and pages naturally. Root-level files and deeper directories are
// not part of the layout.
func planComic(files []*zip.File) ([]chapterPlan, error) {
	byName := map[string]*chapterPlan{}
	var names []string
	chapter := func(name string) *chapterPlan {
		c, ok := byName[name]
		if !ok {
			c = &chapterPlan{name: name}
			byName[name] = c
			names = append(names, name)
		}
		return c
	}
	for _, f := range files {
		if ignored(f.Name) {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(f.Name, "/"), "/")
		if len(parts) < 2 {
			if f.FileInfo().IsDir() {
				chapter(parts[0])
			}
			continue
		}
		c := chapter(parts[0])
		if len(parts) != 2 || f.FileInfo().IsDir() {
			continue
		}
		if pageExt[strings.ToLower(path.Ext(parts[1]))] {
			c.pages = append(c.pages, f)
		}
	}

	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
	plans := make([]chapterPlan, 0, len(names))
	for _, name := range names {
		c := byName[name]
		if len(c.pages) == 0 {
			log.Warnf("[Ingest] Skipping chapter %q without pages", name)
			continue
		}
		sort.Slice(c.pages, func(i, j int) bool {
			si, sj := stem(c.pages[i].Name), stem(c.pages[j].Name)
			if si != sj {
				return naturalLess(si, sj)
			}
			return naturalLess(c.pages[i].Name, c.pages[j].Name)
		})
		plans = append(plans, *c)
	}
	if len(plans) == 0 {
		return nil, apperr.New(apperr.CodeEmptyArchive, "archive contains no chapter with image pages")
	}
	return plans, nil
}

func (in *Ingestor) storeComic(ctx context.Context, w *writer, asset *models.EbookAsset, p *Pending) ([]models.Chapter, error) {
	zr, err := openZip(p.SpoolPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	if err := inspect(zr.File, in.limits); err != nil {
		return nil, err
	}
	plans, err := planComic(zr.File)
	if err != nil {
		return nil, err
	}

	chapters := make([]models.Chapter, len(plans))
	total := 0
	for i, plan := range plans {
		chapters[i] = models.Chapter{Name: plan.name, SortOrder: i + 1, Pages: make([]models.Page, len(plan.pages))}
		total += len(plan.pages)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.limits.UploadWorkers)
	for ci, plan := range plans {
		for pi, file := range plan.pages {
			file := file
			page := &chapters[ci].Pages[pi]
			page.PageIndex = pi + 1
			rel := plan.name + "/" + strconv.Itoa(pi+1) + strings.ToLower(path.Ext(file.Name))
			g.Go(func() error {
				return in.storePage(gctx, w, file, rel, page)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	asset.PageCount = total
	return chapters, nil
}

func (in *Ingestor) storePage(ctx context.Context, w *writer, file *zip.File, rel string, page *models.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidFormat, "open "+file.Name, err)
	}
	defer rc.Close()
	head, body, err := peek(rc)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidFormat, "read "+file.Name, err)
	}
	contentType, err := sniffPage(file.Name, head)
	if err != nil {
		return err
	}
	key, err := w.put(ctx, rel, body, int64(file.UncompressedSize64), contentType)
	if err != nil {
		return err
	}
	page.StorageKey = key
	page.ContentType = contentType
	page.SizeBytes = int64(file.UncompressedSize64)
	return nil
}

// promote copies a published staged revision to the canonical keys and hands
// the staging copies and the superseded objects to the cleaner. The asset is
// already served from the staging keys, so a failed promotion is only logged.
func (in *Ingestor) promote(ctx context.Context, asset *models.EbookAsset, w *writer, superseded []string) {
	ctx = context.WithoutCancel(ctx)
	moved := make(map[string]string, len(w.written))
	for _, o := range w.written {
		dst := w.canonical(o.key)
		if err := storage.Copy(ctx, in.store, o.key, dst, o.contentType); err != nil {
			log.Warnf("[Ingest] Promotion of asset %s stopped at %s: %v", asset.UUID, o.key, err)
			break
		}
		moved[o.key] = dst
	}
	if len(moved) == 0 {
		return
	}
	staged := asset.IndexRevision
	if err := in.assets.RewriteKeys(ctx, asset, moved); err != nil {
		log.Errorf("[Ingest] Could not point asset %s at promoted keys: %v", asset.UUID, err)
		return
	}
	if next, ok := moved[asset.OriginalKey]; ok {
		asset.OriginalKey = next
	}
	in.invalidate(ctx, asset.UUID, staged)

	live := make(map[string]bool, len(moved))
	garbage := make([]string, 0, len(moved)+len(superseded))
	for src, dst := range moved {
		live[dst] = true
		garbage = append(garbage, src)
	}
	for _, key := range superseded {
		if !live[key] {
			garbage = append(garbage, key)
		}
	}
	sort.Strings(garbage)
	if err := in.cleaner.Cleanup(ctx, garbage); err != nil {
		log.Warnf("[Ingest] Cleanup after promoting asset %s failed: %v", asset.UUID, err)
	}
}

func (in *Ingestor) fail(asset *models.EbookAsset, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	msg := cause.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	if _, err := in.assets.Transition(ctx, asset.ID, models.AssetStatusUploading, models.AssetStatusFailed, msg); err != nil {
		log.Errorf("[Ingest] Could not mark asset %s failed: %v", asset.UUID, err)
	}
	asset.Status = models.AssetStatusFailed
	asset.ErrorMessage = msg
	log.Errorf("[Ingest] Asset %s for book %d failed: %v", asset.UUID, asset.BookID, cause)
}

// assetKeys lists every object referenced by the asset's index.
func (in *Ingestor) assetKeys(ctx context.Context, asset *models.EbookAsset) ([]string, error) {
	var keys []string
	if asset.OriginalKey != "" {
		keys = append(keys, asset.OriginalKey)
	}
	chapters, err := in.assets.LoadChapters(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range chapters {
		for _, p := range c.Pages {
			keys = append(keys, p.StorageKey)
		}
	}
	return keys, nil
}

// Asset returns the asset with the given public id, for status polling.
func (in *Ingestor) Asset(ctx context.Context, assetUUID string) (*models.EbookAsset, error) {
	return in.assets.GetByUUID(ctx, assetUUID)
}

// Remove deletes all assets of a book and their objects.
func (in *Ingestor) Remove(ctx context.Context, bookID uint) error {
	assets, err := in.assets.ListByBook(ctx, bookID)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		return apperr.Newf(apperr.CodeNotFound, "book %d has no content", bookID)
	}
	var keys []string
	for i := range assets {
		k, err := in.assetKeys(ctx, &assets[i])
		if err != nil {
			return err
		}
		keys = append(keys, k...)
		if err := in.assets.Delete(ctx, assets[i].ID); err != nil {
			return err
		}
		in.invalidate(ctx, assets[i].UUID, assets[i].IndexRevision)
	}
	if err := in.cleaner.Cleanup(ctx, keys); err != nil {
		log.Warnf("[Ingest] Objects of book %d were not fully removed: %v", bookID, err)
	}
	log.Infof("[Ingest] Removed %d assets of book %d", len(assets), bookID)
	return nil
}

// FailStale marks uploading assets untouched for longer than olderThan as failed.
// It recovers from workers that died mid-ingestion.
func (in *Ingestor) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := in.assets.ListStale(ctx, models.AssetStatusUploading, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range stale {
		ok, err := in.assets.Transition(ctx, a.ID, models.AssetStatusUploading, models.AssetStatusFailed,
			"ingestion did not finish within "+olderThan.String())
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		log.Warnf("[Ingest] Marked %d stale uploads as failed", n)
	}
	return n, nil
}

// StaleAfter is the configured abandonment threshold.
func (in *Ingestor) StaleAfter() time.Duration {
	return in.limits.StaleAfter
}
