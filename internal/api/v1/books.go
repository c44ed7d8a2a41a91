package apiv1

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/access"
	"github.com/ManuelReschke/Bookfox/internal/pkg/usercontext"
)

// LinkResponse carries a decision and, when granted, a single-object URL.
type LinkResponse struct {
	Access access.Decision `json:"access"`
	Grant  *access.Grant   `json:"grant,omitempty"`
}

type ChaptersResponse struct {
	Access   access.Decision `json:"access"`
	Chapters []string        `json:"chapters,omitempty"`
}

type PagesResponse struct {
	Access access.Decision    `json:"access"`
	Pages  []access.PageGrant `json:"pages,omitempty"`
}

// GetBookAccess reports whether the caller may read the book. Denials are 200s.
func (s *APIServer) GetBookAccess(c *fiber.Ctx) error {
	bookID, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	decision, err := s.svc.Access.CheckAccess(requestContext(c), usercontext.GetUserID(c), bookID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(decision)
}

func (s *APIServer) GetBookLink(c *fiber.Ctx) error {
	bookID, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	decision, grant, err := s.svc.Access.GetAccessLink(requestContext(c), usercontext.GetUserID(c), bookID)
	if err != nil {
		return respondError(c, err)
	}
	if !decision.HasAccess {
		return c.Status(denialStatus(decision)).JSON(LinkResponse{Access: decision})
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(LinkResponse{Access: decision, Grant: grant})
}

func (s *APIServer) GetBookChapters(c *fiber.Ctx) error {
	bookID, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	decision, chapters, err := s.svc.Access.GetChapters(requestContext(c), usercontext.GetUserID(c), bookID)
	if err != nil {
		return respondError(c, err)
	}
	if !decision.HasAccess {
		return c.Status(denialStatus(decision)).JSON(ChaptersResponse{Access: decision})
	}
	return c.JSON(ChaptersResponse{Access: decision, Chapters: chapters})
}

func (s *APIServer) GetChapterPages(c *fiber.Ctx) error {
	bookID, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	chapter, err := url.PathUnescape(c.Params("chapter"))
	if err != nil || chapter == "" {
		return badRequest(c, "chapter is required")
	}
	decision, pages, err := s.svc.Access.GetChapterPages(requestContext(c), usercontext.GetUserID(c), bookID, chapter)
	if err != nil {
		return respondError(c, err)
	}
	if !decision.HasAccess {
		return c.Status(denialStatus(decision)).JSON(PagesResponse{Access: decision})
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(PagesResponse{Access: decision, Pages: pages})
}
