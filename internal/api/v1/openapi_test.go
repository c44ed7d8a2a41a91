package apiv1

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIFile = "../../../public/docs/v1/openapi.yml"

var routeParam = regexp.MustCompile(`:([A-Za-z_]+)`)

// Every mounted v1 route must be documented, and the document must be valid.
func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIFile)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	app := fiber.New()
	RegisterHandlers(app.Group("/api/v1"), NewAPIServer(Services{}), func(c *fiber.Ctx) error { return c.Next() })

	checked := 0
	for _, route := range app.GetRoutes(true) {
		if route.Method == http.MethodHead || !strings.HasPrefix(route.Path, "/api/v1/") {
			continue
		}
		path := routeParam.ReplaceAllString(strings.TrimPrefix(route.Path, "/api/v1"), "{$1}")
		item := doc.Paths.Value(path)
		if !assert.NotNil(t, item, "undocumented path %s", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(route.Method), "undocumented %s %s", route.Method, path)
		checked++
	}
	assert.Greater(t, checked, 20)
}
