package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

const answerToolName = "answer_question"

// Server exposes the answer pipeline as an MCP tool.
type Server struct {
	answers ports.AnswerService
	logger  *slog.Logger
	mcp     *server.MCPServer
}

func NewServer(answers ports.AnswerService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		answers: answers,
		logger:  logger,
		mcp: server.NewMCPServer(
			"evidence-router",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	tool := mcp.NewTool(answerToolName,
		mcp.WithDescription("Answer a question from retrieved evidence only. "+
			"Returns a grounded answer with citations, or an explicit not-found answer."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question."),
			mcp.MaxLength(4000),
		),
		mcp.WithString("session_id",
			mcp.Description("Optional caller session identifier."),
		),
	)
	s.mcp.AddTool(tool, s.handleAnswer)
	return s
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type toolAnswer struct {
	Text             string                  `json:"text"`
	Grounded         bool                    `json:"grounded"`
	Citations        []string                `json:"citations"`
	RejectedReason   string                  `json:"rejected_reason,omitempty"`
	StrategiesTried  []domain.Strategy       `json:"strategies_tried"`
	CoordinatorState domain.CoordinatorState `json:"coordinator_state"`
}

func (s *Server) handleAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := request.GetString("session_id", "")

	answer, err := s.answers.Answer(ctx, question, sessionID)
	if err != nil {
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			s.logger.Error("mcp_answer_failed", "error", err)
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(toolAnswer{
		Text:             answer.Text,
		Grounded:         answer.Grounded,
		Citations:        answer.Citations,
		RejectedReason:   answer.RejectedReason,
		StrategiesTried:  answer.Metadata.StrategiesTried,
		CoordinatorState: answer.Metadata.CoordinatorState,
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(payload)), nil
}
