package schema

import (
	"strings"
	"testing"
)

const productSDL = `type Product @key(fields: "id") {
  id: ID!
  name: String
  price: Float
}

type Query {
  products: [Product!]!
}
`

func TestBuild(t *testing.T) {
	s, err := Build("products", productSDL)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if s.Types["Product"] == nil {
		t.Fatalf("Product type missing from schema")
	}
	if s.Query == nil || s.Query.Fields.ForName("products") == nil {
		t.Fatalf("Query.products missing from schema")
	}
}

func TestBuildAcceptsFederationDirectives(t *testing.T) {
	sdl := `extend schema @link(url: "https://specs.apollo.dev/federation/v2.0", import: ["@key", "@shareable"])

type Review @key(fields: "id") {
  id: ID!
  body: String @shareable
  product: Product
}

type Product @key(fields: "id", resolvable: false) {
  id: ID! @external
}

type Query {
  reviews: [Review!]!
}
`
	if _, err := Build("reviews", sdl); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
}

func TestBuildRejectsInvalidSDL(t *testing.T) {
	if _, err := Build("broken", "type Query { oops: Missing }"); err == nil {
		t.Fatalf("undefined type should fail the build")
	}
}

func TestVersionDeterministic(t *testing.T) {
	v1 := Version(productSDL)
	v2 := Version(productSDL)
	if v1 != v2 {
		t.Fatalf("version not stable: %s vs %s", v1, v2)
	}
	if len(v1) != 64 || strings.ToLower(v1) != v1 {
		t.Fatalf("version should be lowercase hex sha256, got %q", v1)
	}
	if Version(productSDL+" ") == v1 {
		t.Fatalf("different SDL should produce a different version")
	}
}
