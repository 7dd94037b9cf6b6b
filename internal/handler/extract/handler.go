package extract

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/service/extract"
	"github.com/zhouzirui/genchat/backend/internal/transport"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// Handler 结构化抽取的HTTP处理器
type Handler struct {
	predictor  extract.Predictor
	retryLimit int
	logger     *zap.Logger
}

// New 创建抽取处理器
func New(predictor extract.Predictor, retryLimit int, logger *zap.Logger) *Handler {
	return &Handler{
		predictor:  predictor,
		retryLimit: retryLimit,
		logger:     logging.OrNop(logger),
	}
}

// RegisterRoutes 注册抽取相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/extract", h.handleExtract)
}

type extractRequest struct {
	Text    string         `json:"text"`
	Context string         `json:"context"`
	Format  extract.Format `json:"format"`
}

type extractResponse struct {
	Result map[string]string `json:"result"`
}

// handleExtract 每个请求使用独立的抽取器，loading/isError 状态互不干扰
func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := req.Format.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !transport.Available(h.predictor) {
		utils.RespondError(w, http.StatusServiceUnavailable, transport.ErrModelUnavailable.Error())
		return
	}

	extractor := extract.NewExtractor(h.predictor,
		extract.WithRetryLimit(h.retryLimit),
		extract.WithLogger(h.logger),
	)
	result, err := extractor.Extract(r.Context(), req.Text, req.Context, req.Format)
	if err != nil {
		if errors.Is(err, transport.ErrModelUnavailable) {
			utils.RespondError(w, http.StatusServiceUnavailable, transport.ErrModelUnavailable.Error())
			return
		}
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, extractResponse{Result: result})
}
