package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

// Tool names
const (
	ToolComputeSimilarity = "compute_similarity"
	ToolInvalidatePatient = "invalidate_patient"
	ToolClearCache        = "clear_similarity_cache"
	ToolModelStatus       = "model_status"
	ToolTermInformation   = "term_information"
)

// ToolNames lists every registered tool
var ToolNames = []string{
	ToolComputeSimilarity,
	ToolInvalidatePatient,
	ToolClearCache,
	ToolModelStatus,
	ToolTermInformation,
}

// ComputeSimilarityParams are the compute_similarity arguments
type ComputeSimilarityParams struct {
	MatchID     string `json:"match_id" jsonschema:"identifier of the patient being matched"`
	ReferenceID string `json:"reference_id" jsonschema:"identifier of the reference patient"`
	AccessLevel string `json:"access_level,omitempty" jsonschema:"optional access level to view the result with (none, match, view, edit, owner); capped at the access the match patient's visibility grants"`
}

// InvalidatePatientParams are the invalidate_patient arguments
type InvalidatePatientParams struct {
	PatientID string `json:"patient_id" jsonschema:"patient whose cached similarities are dropped"`
	Deleted   bool   `json:"deleted,omitempty" jsonschema:"the patient record was deleted rather than updated"`
}

// EmptyParams is used by tools without arguments
type EmptyParams struct{}

// TermInformationParams are the term_information arguments
type TermInformationParams struct {
	TermID string `json:"term_id" jsonschema:"phenotype term, e.g. HP:0001250; alternate IDs are resolved"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolComputeSimilarity,
		Description: "Compute the phenotype similarity of two patients. Results are cached per patient pair and access level.",
	}, s.handleComputeSimilarity)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolInvalidatePatient,
		Description: "Drop every cached similarity involving a patient after its record changed.",
	}, s.handleInvalidatePatient)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolClearCache,
		Description: "Drop every cached similarity result.",
	}, s.handleClearCache)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolModelStatus,
		Description: "Report the information content model in service and similarity cache statistics.",
	}, s.handleModelStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolTermInformation,
		Description: "Report the information content of a phenotype term and its informative ancestors.",
	}, s.handleTermInformation)
}

func (s *Server) handleComputeSimilarity(ctx context.Context, _ *mcp.CallToolRequest, params ComputeSimilarityParams) (*mcp.CallToolResult, any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.logTool(ToolComputeSimilarity, logrus.Fields{"match_id": params.MatchID, "reference_id": params.ReferenceID})

	var (
		result *domain.SimilarityResult
		err    error
	)
	if params.AccessLevel != "" {
		view := &domain.SimilarityResult{MatchID: params.MatchID, ReferenceID: params.ReferenceID}
		result, err = s.service.RederiveView(ctx, view, params.AccessLevel)
	} else {
		result, err = s.service.ComputeSimilarity(ctx, params.MatchID, params.ReferenceID)
	}
	if err != nil {
		return s.errorResult(ToolComputeSimilarity, err)
	}
	return jsonResult(result)
}

func (s *Server) handleInvalidatePatient(ctx context.Context, _ *mcp.CallToolRequest, params InvalidatePatientParams) (*mcp.CallToolResult, any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.logTool(ToolInvalidatePatient, logrus.Fields{"patient_id": params.PatientID})

	if err := s.service.PatientChanged(ctx, params.PatientID, params.Deleted); err != nil {
		return s.errorResult(ToolInvalidatePatient, err)
	}
	return jsonResult(map[string]string{"invalidated": params.PatientID})
}

func (s *Server) handleClearCache(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyParams) (*mcp.CallToolResult, any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.logTool(ToolClearCache, nil)

	if err := s.service.ClearAllReplicas(ctx); err != nil {
		return s.errorResult(ToolClearCache, err)
	}
	return jsonResult(map[string]bool{"cleared": true})
}

func (s *Server) handleModelStatus(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyParams) (*mcp.CallToolResult, any, error) {
	s.logTool(ToolModelStatus, nil)
	return jsonResult(s.service.ModelStatus(ctx))
}

func (s *Server) handleTermInformation(ctx context.Context, _ *mcp.CallToolRequest, params TermInformationParams) (*mcp.CallToolResult, any, error) {
	s.logTool(ToolTermInformation, logrus.Fields{"term_id": params.TermID})

	info, err := s.service.TermInfo(ctx, params.TermID)
	if err != nil {
		return s.errorResult(ToolTermInformation, err)
	}
	return jsonResult(info)
}

func (s *Server) logTool(name string, fields logrus.Fields) {
	s.logger.WithField("tool", name).WithFields(fields).Debug("Tool invoked")
}

// errorResult reports a failed call as a tool error so the client can see
// and act on it
func (s *Server) errorResult(tool string, err error) (*mcp.CallToolResult, any, error) {
	code := domain.ErrorCode(err)
	s.logger.WithFields(logrus.Fields{
		"tool":  tool,
		"code":  code,
		"error": err,
	}).Warn("Tool call failed")

	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s: %v", code, err)},
		},
	}, nil, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
