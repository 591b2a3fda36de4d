package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowgraph/internal/kgerrors"
)

func validSchema() Schema {
	return Schema{
		KBID: "retail-demo",
		Nodes: []NodeDecl{
			{Label: "Product", KeyProperty: "sku", Props: []string{"sku", "name"}},
		},
		Mappings: Mappings{Sources: []SourceMapping{
			{
				SourceID:     "products",
				ConnectorURL: "http://c/products",
				DocumentType: "json",
				Extract: Extract{
					Node: "Product",
					Key:  "$.sku",
					Assign: []PropAssign{
						{Property: "name", Path: "$.name"},
					},
				},
			},
		}},
	}
}

func TestRegister_ValidSchemaSucceeds(t *testing.T) {
	r := NewRegistry()
	kbID, warnings, err := r.Register(validSchema())
	require.NoError(t, err)
	assert.Equal(t, "retail-demo", kbID)
	assert.Empty(t, warnings)

	got, err := r.Get("retail-demo")
	require.NoError(t, err)
	assert.Equal(t, "Product", got.Nodes[0].Label)
}

func TestRegister_ReplacesPriorSchemaAtomically(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Register(validSchema())
	require.NoError(t, err)

	updated := validSchema()
	updated.Nodes[0].Props = append(updated.Nodes[0].Props, "price")
	_, _, err = r.Register(updated)
	require.NoError(t, err)

	got, err := r.Get("retail-demo")
	require.NoError(t, err)
	assert.Contains(t, got.Nodes[0].Props, "price")
}

func TestRegister_RejectsMissingKeyProperty(t *testing.T) {
	r := NewRegistry()
	s := validSchema()
	s.Nodes[0].KeyProperty = "missing"
	_, _, err := r.Register(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kgerrors.ErrSchemaInvalid))
}

func TestRegister_RejectsUnknownRelationshipLabel(t *testing.T) {
	r := NewRegistry()
	s := validSchema()
	s.Relationships = []RelationshipDecl{{Type: "MADE_BY", FromLabel: "Product", ToLabel: "Vendor"}}
	_, _, err := r.Register(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kgerrors.ErrSchemaInvalid))
}

func TestRegister_RejectsDuplicateSourceID(t *testing.T) {
	r := NewRegistry()
	s := validSchema()
	s.Mappings.Sources = append(s.Mappings.Sources, s.Mappings.Sources[0])
	_, _, err := r.Register(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kgerrors.ErrSchemaInvalid))
}

func TestRegister_WarnsOnPIIHeuristic(t *testing.T) {
	r := NewRegistry()
	s := validSchema()
	s.Nodes[0].Props = append(s.Nodes[0].Props, "email")
	s.Mappings.Sources[0].Extract.Assign = append(s.Mappings.Sources[0].Extract.Assign, PropAssign{Property: "email", Path: "$.email"})
	_, warnings, err := r.Register(s)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
}

func TestRegister_WarnsOnPIIHeuristicForEdgeFromProps(t *testing.T) {
	r := NewRegistry()
	s := validSchema()
	s.Nodes = append(s.Nodes, NodeDecl{Label: "Customer", KeyProperty: "email", Props: []string{"email"}})
	s.Mappings.Sources[0].Edges = append(s.Mappings.Sources[0].Edges, EdgeMapping{
		Type: "PURCHASED_BY",
		From: EdgeEndpoint{Label: "Customer", Key: "$.buyer_email", Props: []PropAssign{{Property: "email", Path: "$.buyer_email"}}},
		To:   EdgeEndpoint{Label: "Product", Key: "$.sku"},
	})
	_, warnings, err := r.Register(s)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings, "a PII-named property declared only in from.props must still warn")
}

func TestGet_UnknownKBNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	assert.True(t, errors.Is(err, kgerrors.ErrKBNotFound))
}

func TestListKBs_SortedAndScoped(t *testing.T) {
	r := NewRegistry()
	s1 := validSchema()
	s2 := validSchema()
	s2.KBID = "docs"
	_, _, _ = r.Register(s1)
	_, _, _ = r.Register(s2)
	assert.Equal(t, []string{"docs", "retail-demo"}, r.ListKBs())
}
