package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
	"github.com/phenotype-similarity-server/internal/ontology"
	"github.com/phenotype-similarity-server/internal/service"
	"github.com/phenotype-similarity-server/internal/similarity"
)

type mapPatients map[string]*domain.Patient

func (m mapPatients) GetPatient(_ context.Context, id string) (*domain.Patient, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func observed(id string, visibility domain.Visibility, terms ...string) *domain.Patient {
	p := &domain.Patient{ID: id, Visibility: visibility}
	for _, term := range terms {
		p.Features = append(p.Features, domain.Feature{ID: term, Type: domain.FeatureTypePhenotype, Observed: true})
	}
	return p
}

func newTestServer(t *testing.T) (*Server, *cache.PairCache) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hpo := ontology.NewMemorySource("hpo", []*domain.Term{
		{ID: "R"},
		{ID: "A", ParentIDs: []string{"R"}},
		{ID: "B", ParentIDs: []string{"R"}},
		{ID: "A1", ParentIDs: []string{"A"}, AltIDs: []string{"A1-old"}},
		{ID: "B1", ParentIDs: []string{"B"}},
	})
	omim := ontology.NewMemorySource("omim", []*domain.Term{
		{ID: "D1", Annotations: map[string]any{domain.SymptomField: []any{"A1", "B1"}}},
		{ID: "D2", Annotations: map[string]any{domain.SymptomField: []any{"A"}}},
	})
	opts := infocontent.DefaultOptions()
	opts.RootID = "R"
	provider := infocontent.NewProvider(infocontent.NewBuilder(hpo, omim, opts, logger), logger)

	store, err := cache.NewPairCache(20, logger)
	require.NoError(t, err)
	patients := mapPatients{
		"P1": observed("P1", domain.VisibilityPublic, "A1", "B1"),
		"P2": observed("P2", domain.VisibilityMatchable, "A1"),
	}
	factory := similarity.NewFactory(provider, logger, similarity.WithStore(store), similarity.WithPatients(patients))
	svc := service.NewSimilarityService(logger, provider, factory, patients, nil, nil)
	require.NoError(t, svc.InitializeModel(context.Background()))

	cfg := domain.MCPConfig{RequestTimeout: time.Second}
	return NewServer(cfg, svc, logger), store
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	server, _ := newTestServer(t)

	assert.NotNil(t, server.mcpServer)
	assert.Equal(t, "phenotype-similarity", server.config.ServerName)
	assert.Len(t, ToolNames, 5)
}

func TestComputeSimilarityTool(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	res, _, err := server.handleComputeSimilarity(ctx, &mcp.CallToolRequest{}, ComputeSimilarityParams{MatchID: "P2", ReferenceID: "P1"})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var result domain.SimilarityResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
	assert.Equal(t, domain.ExposureLimited, result.Exposure)
	assert.Equal(t, "match", result.AccessLevel)

	// a higher level than the match patient grants is capped
	res, _, err = server.handleComputeSimilarity(ctx, &mcp.CallToolRequest{},
		ComputeSimilarityParams{MatchID: "P2", ReferenceID: "P1", AccessLevel: "owner"})
	require.NoError(t, err)
	result = domain.SimilarityResult{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
	assert.Equal(t, domain.ExposureLimited, result.Exposure)
	assert.Equal(t, "match", result.AccessLevel)
	assert.Equal(t, 1, store.Stats(ctx).Entries)

	res, _, err = server.handleComputeSimilarity(ctx, &mcp.CallToolRequest{},
		ComputeSimilarityParams{MatchID: "P1", ReferenceID: "P2", AccessLevel: "owner"})
	require.NoError(t, err)
	result = domain.SimilarityResult{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
	assert.Equal(t, domain.ExposureOpen, result.Exposure)
	assert.Equal(t, "view", result.AccessLevel)
	assert.Equal(t, 2, store.Stats(ctx).Entries)
}

func TestComputeSimilarityTool_Errors(t *testing.T) {
	server, _ := newTestServer(t)

	tests := []struct {
		name   string
		params ComputeSimilarityParams
		code   string
	}{
		{"missing reference", ComputeSimilarityParams{MatchID: "P1"}, domain.CodeValidation},
		{"unknown patient", ComputeSimilarityParams{MatchID: "P1", ReferenceID: "P9"}, domain.CodeNotFound},
		{"unknown access level", ComputeSimilarityParams{MatchID: "P1", ReferenceID: "P2", AccessLevel: "admin"}, domain.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := server.handleComputeSimilarity(context.Background(), &mcp.CallToolRequest{}, tt.params)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.code)
		})
	}
}

func TestCacheTools(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	_, _, err := server.handleComputeSimilarity(ctx, &mcp.CallToolRequest{}, ComputeSimilarityParams{MatchID: "P1", ReferenceID: "P2"})
	require.NoError(t, err)
	require.Equal(t, 1, store.Stats(ctx).Entries)

	res, _, err := server.handleInvalidatePatient(ctx, &mcp.CallToolRequest{}, InvalidatePatientParams{PatientID: "P2"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Zero(t, store.Stats(ctx).Entries)

	res, _, err = server.handleInvalidatePatient(ctx, &mcp.CallToolRequest{}, InvalidatePatientParams{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = server.handleClearCache(ctx, &mcp.CallToolRequest{}, EmptyParams{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"cleared": true`)
}

func TestModelTools(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	res, _, err := server.handleModelStatus(ctx, &mcp.CallToolRequest{}, EmptyParams{})
	require.NoError(t, err)
	var status service.ModelStatus
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &status))
	assert.True(t, status.Ready)
	assert.Equal(t, 3, status.ICTerms)

	res, _, err = server.handleTermInformation(ctx, &mcp.CallToolRequest{}, TermInformationParams{TermID: "A1-old"})
	require.NoError(t, err)
	var info service.TermInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &info))
	assert.Equal(t, "A1", info.Canonical)

	res, _, err = server.handleTermInformation(ctx, &mcp.CallToolRequest{}, TermInformationParams{TermID: "HP:0"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), domain.CodeNotFound)
}

func TestRun_UnsupportedTransport(t *testing.T) {
	server, _ := newTestServer(t)
	err := server.Run(context.Background(), "websocket", 0)
	assert.ErrorContains(t, err, "unsupported transport")
}
