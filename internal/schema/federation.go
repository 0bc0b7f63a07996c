package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// federationPrelude declares the federation v2 directives and scalars so that
// subgraph SDL referencing them parses without the composed supergraph
// context. Subgraph SDL fetched from the registry or via introspection uses
// these without defining them.
const federationPrelude = `
directive @link(url: String!, as: String, for: link__Purpose, import: [link__Import]) repeatable on SCHEMA
directive @key(fields: federation__FieldSet!, resolvable: Boolean = true) repeatable on OBJECT | INTERFACE
directive @requires(fields: federation__FieldSet!) on FIELD_DEFINITION
directive @provides(fields: federation__FieldSet!) on FIELD_DEFINITION
directive @external on OBJECT | FIELD_DEFINITION
directive @shareable repeatable on OBJECT | FIELD_DEFINITION
directive @extends on OBJECT | INTERFACE
directive @override(from: String!, label: String) on FIELD_DEFINITION
directive @inaccessible on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ARGUMENT_DEFINITION | SCALAR | ENUM | ENUM_VALUE | INPUT_OBJECT | INPUT_FIELD_DEFINITION
directive @tag(name: String!) repeatable on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ARGUMENT_DEFINITION | SCALAR | ENUM | ENUM_VALUE | INPUT_OBJECT | INPUT_FIELD_DEFINITION | SCHEMA
directive @composeDirective(name: String!) repeatable on SCHEMA
directive @interfaceObject on OBJECT

scalar federation__FieldSet
scalar FieldSet
scalar link__Import
scalar _Any

enum link__Purpose {
  SECURITY
  EXECUTION
}
`

// Build compiles subgraph SDL into a schema, making the federation
// definitions available to it.
func Build(name, sdl string) (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(
		&ast.Source{Name: "federation.graphql", Input: federationPrelude, BuiltIn: true},
		&ast.Source{Name: name, Input: sdl},
	)
	if err != nil {
		return nil, fmt.Errorf("build schema for %s: %w", name, err)
	}
	return schema, nil
}

// Version computes the content-addressed version of an SDL document: the hex
// SHA-256 of its bytes.
func Version(sdl string) string {
	sum := sha256.Sum256([]byte(sdl))
	return hex.EncodeToString(sum[:])
}
