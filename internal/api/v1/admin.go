package apiv1

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
)

// UploadResponse is returned for accepted uploads. JobID is set when the
// archive is processed in the background.
type UploadResponse struct {
	AssetUUID string `json:"asset_uuid"`
	Status    string `json:"status"`
	Reused    bool   `json:"reused"`
	PageCount int    `json:"page_count,omitempty"`
	JobID     string `json:"job_id,omitempty"`
}

// PostBookEbook accepts a multipart upload (field "file", form value "kind").
// The upload is validated and spooled in the request; storing the objects runs
// on the job queue unless ?sync=1 is given or no queue is configured.
func (s *APIServer) PostBookEbook(c *fiber.Ctx) error {
	bookID, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	kind, err := ingest.ParseKind(c.FormValue("kind"))
	if err != nil {
		return respondError(c, err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return respondError(c, apperr.Wrap(apperr.CodeValidation, "unreadable upload", err))
	}
	defer f.Close()

	ctx := requestContext(c)
	pending, err := s.svc.Ingestor.Prepare(ctx, bookID, f, kind, fh.Filename)
	if err != nil {
		return respondError(c, err)
	}
	if pending.Reused {
		return c.JSON(UploadResponse{AssetUUID: pending.AssetUUID, Status: "ready", Reused: true})
	}

	if s.svc.Queue != nil && !c.QueryBool("sync") {
		job, err := s.svc.Queue.EnqueueIngest(ctx, pending)
		if err == nil {
			return c.Status(fiber.StatusAccepted).JSON(UploadResponse{AssetUUID: pending.AssetUUID, Status: "uploading", JobID: job.ID})
		}
		log.Warnf("[API] Could not enqueue ingestion of asset %s, processing inline: %v", pending.AssetUUID, err)
	}

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncIngestTimeout)
	defer cancel()
	res, err := s.svc.Ingestor.Process(syncCtx, pending)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(UploadResponse{
		AssetUUID: res.AssetUUID,
		Status:    string(res.Status),
		PageCount: res.PageCount,
	})
}

// GetAsset reports the ingestion state of an asset.
func (s *APIServer) GetAsset(c *fiber.Ctx) error {
	assetUUID := strings.TrimSpace(c.Params("uuid"))
	if assetUUID == "" {
		return badRequest(c, "uuid missing")
	}
	asset, err := s.svc.Ingestor.Asset(requestContext(c), assetUUID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(asset)
}

// DeleteBookEbook removes all content of a book.
func (s *APIServer) DeleteBookEbook(c *fiber.Ctx) error {
	bookID, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Ingestor.Remove(requestContext(c), bookID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PostCancelRental revokes a rental on behalf of support.
func (s *APIServer) PostCancelRental(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := s.bind(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	rental, err := s.svc.Entitlements.CancelRental(requestContext(c), id, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rental)
}

func (s *APIServer) GetJob(c *fiber.Ctx) error {
	if s.svc.Queue == nil {
		return respondError(c, apperr.New(apperr.CodeNotFound, "job queue disabled"))
	}
	job, err := s.svc.Queue.GetJob(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(job)
}

// PostReconcile runs the expiry and stale-upload sweep immediately.
func (s *APIServer) PostReconcile(c *fiber.Ctx) error {
	if s.svc.Jobs == nil {
		return respondError(c, apperr.New(apperr.CodeNotFound, "background jobs disabled"))
	}
	if err := s.svc.Jobs.RunTaskOnce(requestContext(c), "reconcile"); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
