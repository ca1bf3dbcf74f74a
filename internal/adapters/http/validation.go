package httpadapter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
)

//go:embed openapi.yaml
var openAPISpec []byte

// requestValidator checks requests against the embedded OpenAPI document.
// Paths the document does not describe pass through untouched.
type requestValidator struct {
	router routers.Router
}

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &requestValidator{router: router}, nil
}

func (v *requestValidator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, validationDetail(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validationDetail(err error) string {
	var requestErr *openapi3filter.RequestError
	if errors.As(err, &requestErr) {
		switch {
		case requestErr.Parameter != nil:
			return fmt.Sprintf("invalid parameter %q: %s", requestErr.Parameter.Name, reasonOf(requestErr))
		case requestErr.RequestBody != nil:
			return "invalid request body: " + reasonOf(requestErr)
		}
	}
	return err.Error()
}

func reasonOf(err *openapi3filter.RequestError) string {
	if err.Err != nil {
		var schemaErr *openapi3.SchemaError
		if errors.As(err.Err, &schemaErr) {
			if field := strings.Join(schemaErr.JSONPointer(), "."); field != "" {
				return field + ": " + schemaErr.Reason
			}
			return schemaErr.Reason
		}
		return err.Err.Error()
	}
	if err.Reason != "" {
		return err.Reason
	}
	return "validation failed"
}
