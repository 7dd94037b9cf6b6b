package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/handler/chat"
	conversationHandler "github.com/zhouzirui/genchat/backend/internal/handler/conversation"
	extractHandler "github.com/zhouzirui/genchat/backend/internal/handler/extract"
	interpreterHandler "github.com/zhouzirui/genchat/backend/internal/handler/interpreter"
	presetHandler "github.com/zhouzirui/genchat/backend/internal/handler/preset"
	"github.com/zhouzirui/genchat/backend/internal/handler/stream"
	"github.com/zhouzirui/genchat/backend/internal/handler/watch"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/middleware"
	"github.com/zhouzirui/genchat/backend/internal/model/preset"
	chatService "github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/internal/service/extract"
	"github.com/zhouzirui/genchat/backend/internal/service/interpreter"
	"github.com/zhouzirui/genchat/backend/internal/service/rag"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// Deps collects what the HTTP layer is wired to.
type Deps struct {
	Presets           preset.Store
	Engine            *chatService.Engine
	Conversations     *conversation.Service
	Predictor         extract.Predictor
	ExtractRetryLimit int
	// Retriever backs the rag view. Without one it answers from no documents.
	Retriever      rag.Retriever
	RAGTopK        int
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := logging.OrNop(deps.Logger)
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(deps.AllowedOrigins))

	resolver := chat.NewResolver(deps.Presets, deps.Engine)
	chatHandler := chat.New(resolver, logger)
	retriever := deps.Retriever
	if retriever == nil {
		retriever = rag.NewMemoryRetriever(nil)
	}
	interpreterService := interpreter.NewService(deps.Predictor, logger)
	ragService := rag.NewService(deps.Predictor, retriever, rag.WithLimit(deps.RAGTopK), rag.WithLogger(logger))

	streamHandler := stream.New(resolver, map[string]stream.Runner{
		"interpreter": interpreterService.Run,
		"rag":         ragService.Ask,
	}, logger)
	watchHandler := watch.New(resolver, logger)
	codeHandler := interpreterHandler.New(resolver, interpreterService, logger)

	// Every view route exists both bare and scoped to a conversation.
	mountView := func(v chi.Router) {
		chatHandler.RegisterViewRoutes(v)
		streamHandler.RegisterViewRoutes(v)
		watchHandler.RegisterViewRoutes(v)
		codeHandler.RegisterViewRoutes(v)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		presetHandler.New(deps.Presets).RegisterRoutes(api)
		conversationHandler.New(deps.Conversations).RegisterRoutes(api)
		extractHandler.New(deps.Predictor, deps.ExtractRetryLimit, logger).RegisterRoutes(api)

		api.Route("/views/{view}", func(v chi.Router) {
			mountView(v)
			v.Route("/conversations/{conversationID}", mountView)
		})
	})

	return r
}
