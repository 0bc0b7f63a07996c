package mock

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/apollosolutions/subgraph-automocking/internal/domain"
	"github.com/apollosolutions/subgraph-automocking/internal/schema"
)

// Engine executes GraphQL operations against cached schemas, synthesizing
// values from layered resolver maps.
type Engine struct {
	schemas *schema.Cache
	loader  SourceLoader
	logger  *slog.Logger
}

// NewEngine creates a mock engine reading schemas from schemas and resolver
// maps from loader.
func NewEngine(schemas *schema.Cache, loader SourceLoader, logger *slog.Logger) *Engine {
	if loader == nil {
		loader = &StaticLoader{}
	}
	return &Engine{schemas: schemas, loader: loader, logger: logger}
}

// Result is a completed mock execution.
type Result struct {
	StatusCode    int
	Response      domain.GraphQLResponse
	Introspection bool
}

// Execute runs query against the named subgraph's cached schema. overrides is
// an optional per-call resolver layer that wins over file-provided maps.
func (e *Engine) Execute(ctx context.Context, subgraphName, query string, variables map[string]any, operationName string, overrides ResolverMap) (*Result, *domain.ProxyError) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewProxyError(domain.ErrCodeMissingQuery, "request body must include a non-empty query")
	}

	entry, err := e.schemas.GetSchema(ctx, subgraphName)
	if err != nil {
		return nil, domain.Errorf(domain.ErrCodeSchemaNotFound,
			"no schema available for subgraph %s", subgraphName).WithCause(err)
	}

	if IsIntrospectionQuery(query) {
		return &Result{
			StatusCode:    http.StatusOK,
			Introspection: true,
			Response: domain.GraphQLResponse{
				Data: map[string]any{"_service": map[string]any{"sdl": entry.SDL}},
			},
		}, nil
	}

	doc, perr := parser.ParseQuery(&ast.Source{Name: subgraphName + "-operation", Input: query})
	if perr != nil {
		return nil, graphqlError(domain.ErrCodeGraphQLParseError, perr)
	}

	if errs := validator.Validate(entry.Schema, doc); len(errs) > 0 {
		return nil, graphqlError(domain.ErrCodeGraphQLValidation, errs)
	}

	op, opErr := selectOperation(doc, operationName)
	if opErr != nil {
		return nil, opErr
	}

	root := rootDefinition(entry.Schema, op)
	if root == nil {
		return nil, domain.Errorf(domain.ErrCodeSchemaError,
			"schema for %s does not define a %s root", subgraphName, op.Operation)
	}

	source, _ := e.loader.Load()
	resolvers := source.ForSubgraph(subgraphName, overrides)

	g := &generator{schema: entry.Schema, doc: doc, resolvers: resolvers}
	data := g.selectionSet(root, op.SelectionSet, resolvers[root.Name])

	e.logger.Debug("mock response generated",
		slog.String("subgraph", subgraphName),
		slog.String("operation", string(op.Operation)),
		slog.String("schema_version", entry.Version[:12]),
	)

	return &Result{
		StatusCode: http.StatusOK,
		Response:   domain.GraphQLResponse{Data: data},
	}, nil
}

// IsIntrospectionQuery reports whether the query is the federation
// introspection query, ignoring comments, whitespace, and case.
func IsIntrospectionQuery(query string) bool {
	return normalizeQuery(query) == normalizedIntrospection
}

var normalizedIntrospection = normalizeQuery(schema.FederationIntrospectionQuery)

// normalizeQuery strips # comments and all whitespace, then lowercases.
func normalizeQuery(q string) string {
	var b strings.Builder
	inComment := false
	for _, r := range q {
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
			}
		case r == '#':
			inComment = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ',':
			// skip
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

func selectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, *domain.ProxyError) {
	if operationName != "" {
		op := doc.Operations.ForName(operationName)
		if op == nil {
			return nil, domain.Errorf(domain.ErrCodeGraphQLValidation,
				"operation %q not found in query document", operationName)
		}
		return op, nil
	}
	if len(doc.Operations) == 1 {
		return doc.Operations[0], nil
	}
	return nil, domain.NewProxyError(domain.ErrCodeGraphQLValidation,
		"operationName is required when the document defines multiple operations")
}

func rootDefinition(s *ast.Schema, op *ast.OperationDefinition) *ast.Definition {
	switch op.Operation {
	case ast.Query:
		return s.Query
	case ast.Mutation:
		return s.Mutation
	case ast.Subscription:
		return s.Subscription
	}
	return nil
}

// graphqlError converts gqlparser errors into a ProxyError, keeping the first
// error's message and locations.
func graphqlError(code domain.ErrorCode, err error) *domain.ProxyError {
	perr := domain.NewProxyError(code, err.Error())

	var first *gqlerror.Error
	switch e := err.(type) {
	case gqlerror.List:
		if len(e) > 0 {
			first = e[0]
		}
	case *gqlerror.Error:
		first = e
	}
	if first != nil {
		perr.Message = first.Message
		for _, loc := range first.Locations {
			perr.Locations = append(perr.Locations, domain.GraphQLErrorLocation{
				Line:   loc.Line,
				Column: loc.Column,
			})
		}
	}
	return perr
}

// generator walks an operation's selection sets producing values.
type generator struct {
	schema    *ast.Schema
	doc       *ast.QueryDocument
	resolvers ResolverMap
}

// selectionSet resolves sels against the (concrete) parent definition.
// values is the resolver-provided map for this object, which wins per field
// over both the type's resolver map and generated defaults.
func (g *generator) selectionSet(parent *ast.Definition, sels ast.SelectionSet, values map[string]any) map[string]any {
	out := make(map[string]any)
	g.collect(parent, sels, values, out)
	return out
}

func (g *generator) collect(parent *ast.Definition, sels ast.SelectionSet, values map[string]any, out map[string]any) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			g.field(parent, s, values, out)
		case *ast.FragmentSpread:
			frag := g.doc.Fragments.ForName(s.Name)
			if frag != nil && g.typeConditionMatches(parent, frag.TypeCondition) {
				g.collect(parent, frag.SelectionSet, values, out)
			}
		case *ast.InlineFragment:
			if g.typeConditionMatches(parent, s.TypeCondition) {
				g.collect(parent, s.SelectionSet, values, out)
			}
		}
	}
}

func (g *generator) field(parent *ast.Definition, field *ast.Field, values map[string]any, out map[string]any) {
	alias := field.Alias
	if alias == "" {
		alias = field.Name
	}

	if field.Name == "__typename" {
		out[alias] = parent.Name
		return
	}

	fieldDef := parent.Fields.ForName(field.Name)
	if fieldDef == nil {
		return
	}

	provided, has := values[field.Name]
	if !has {
		provided, has = g.resolvers[parent.Name][field.Name]
	}

	out[alias] = g.value(fieldDef.Type, field, provided, has)
}

// value produces a value for typ, honoring a resolver-provided value when
// present.
func (g *generator) value(typ *ast.Type, field *ast.Field, provided any, has bool) any {
	if typ.Elem != nil {
		return g.listValue(typ.Elem, field, provided, has)
	}

	def := g.schema.Types[typ.NamedType]
	if def == nil {
		return nil
	}

	switch def.Kind {
	case ast.Scalar, ast.Enum:
		if has {
			return provided
		}
		return defaultLeafValue(def, field.Name)
	default:
		concrete := g.concreteType(def)
		nested, _ := provided.(map[string]any)
		return g.selectionSet(concrete, field.SelectionSet, nested)
	}
}

// mockListLength is the number of items synthesized for list fields.
const mockListLength = 2

func (g *generator) listValue(elem *ast.Type, field *ast.Field, provided any, has bool) []any {
	if has {
		if items, ok := provided.([]any); ok {
			out := make([]any, 0, len(items))
			for _, item := range items {
				out = append(out, g.value(elem, field, item, true))
			}
			return out
		}
	}
	out := make([]any, 0, mockListLength)
	for i := 0; i < mockListLength; i++ {
		out = append(out, g.value(elem, field, nil, false))
	}
	return out
}

// concreteType picks an object definition for abstract types: the first
// possible type of an interface or union.
func (g *generator) concreteType(def *ast.Definition) *ast.Definition {
	if def.Kind == ast.Object {
		return def
	}
	if possible := g.schema.PossibleTypes[def.Name]; len(possible) > 0 {
		return possible[0]
	}
	return def
}

func (g *generator) typeConditionMatches(def *ast.Definition, condition string) bool {
	if condition == "" || condition == def.Name {
		return true
	}
	for _, iface := range def.Interfaces {
		if iface == condition {
			return true
		}
	}
	for _, possible := range g.schema.PossibleTypes[condition] {
		if possible.Name == def.Name {
			return true
		}
	}
	return false
}

// defaultLeafValue produces a type-appropriate value for a scalar or enum.
func defaultLeafValue(def *ast.Definition, fieldName string) any {
	if def.Kind == ast.Enum {
		if len(def.EnumValues) > 0 {
			return def.EnumValues[0].Name
		}
		return nil
	}

	switch def.Name {
	case "ID":
		return "mock-id-" + uuid.NewString()[:8]
	case "String":
		return "mock-" + fieldName
	case "Int":
		return 42
	case "Float":
		return 4.2
	case "Boolean":
		return true
	case "DateTime", "Date", "Timestamp":
		return "2024-01-01T00:00:00Z"
	case "JSON", "JSONObject":
		return map[string]any{}
	default:
		return "mock-" + def.Name
	}
}
