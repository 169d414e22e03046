package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/storage"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// StoryGenerator - операции оркестратора, доступные через API.
type StoryGenerator interface {
	GenerateCompleteStory(ctx context.Context, cfg models.StoryConfig, characters []models.Character, events chan<- models.ProgressEvent) (*models.GeneratedStory, error)
	RegeneratePanel(ctx context.Context, panel models.Panel, characters []models.Character, style models.StoryStyle) (*models.Panel, error)
	GenerateCoverVideo(ctx context.Context, story *models.GeneratedStory, events chan<- models.ProgressEvent) (*models.VideoResult, error)
	CheckVideoStatus(ctx context.Context, requestID string) (models.VideoStatus, error)
	GetVideoResult(ctx context.Context, requestID string) (*models.VideoResult, error)
	WaitForVideo(ctx context.Context, requestID string) (*models.VideoResult, error)
	DesignCharacter(ctx context.Context, character models.Character, style models.StoryStyle) (*models.Character, error)
}

// StoryLibrary - чтение и удаление сохраненных историй.
type StoryLibrary interface {
	Load(ctx context.Context, id string) (*models.GeneratedStory, error)
	ListAll(ctx context.Context) []models.StoredStoryRecord
	Delete(ctx context.Context, id string) error
	UsageStats(ctx context.Context) storage.StoryCacheStats
}

// CharacterLibrary - запросы к кэшу персонажей.
type CharacterLibrary interface {
	LoadForNames(ctx context.Context, names []string) []models.Character
	MostUsed(ctx context.Context, n int) []models.StoredCharacterRecord
	MostRecent(ctx context.Context, n int) []models.StoredCharacterRecord
	ClearAll(ctx context.Context) error
	UsageStats(ctx context.Context) storage.CharacterCacheStats
}

// HandlerDeps - зависимости HTTP обработчиков.
type HandlerDeps struct {
	Generator      StoryGenerator
	Stories        StoryLibrary
	Characters     CharacterLibrary
	Tasks          *TaskManager
	Dispatcher     StoryDispatcher
	Runner         *Runner
	AllowedOrigins []string
}

// Handler обслуживает REST и websocket маршруты сервиса.
type Handler struct {
	generator  StoryGenerator
	stories    StoryLibrary
	characters CharacterLibrary
	tasks      *TaskManager
	dispatcher StoryDispatcher
	runner     *Runner
	validate   *validator.Validate
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler создает обработчик API.
func NewHandler(deps HandlerDeps, logger *zap.Logger) *Handler {
	return &Handler{
		generator:  deps.Generator,
		stories:    deps.Stories,
		characters: deps.Characters,
		tasks:      deps.Tasks,
		dispatcher: deps.Dispatcher,
		runner:     deps.Runner,
		validate:   validator.New(),
		upgrader:   newUpgrader(deps.AllowedOrigins),
		logger:     logger.Named("APIHandler"),
	}
}

// RegisterRoutes регистрирует маршруты /api/v1.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")

	stories := v1.Group("/stories")
	stories.POST("", h.generateStory)
	stories.GET("", h.listStories)
	stories.GET("/:id", h.getStory)
	stories.DELETE("/:id", h.deleteStory)
	stories.POST("/:id/video", h.generateCoverVideo)

	tasks := v1.Group("/tasks")
	tasks.GET("/:id", h.getTask)
	tasks.GET("/:id/ws", h.streamTask)

	videos := v1.Group("/videos")
	videos.GET("/:requestId/status", h.videoStatus)
	videos.GET("/:requestId", h.videoResult)
	videos.GET("/:requestId/wait", h.waitForVideo)

	v1.POST("/panels/regenerate", h.regeneratePanel)

	characters := v1.Group("/characters")
	characters.GET("", h.charactersByName)
	characters.GET("/popular", h.popularCharacters)
	characters.GET("/recent", h.recentCharacters)
	characters.GET("/stats", h.characterStats)
	characters.DELETE("", h.clearCharacters)
	characters.POST("/design", h.designCharacter)
}

// TaskAcceptedResponse - ответ на запуск фоновой задачи.
type TaskAcceptedResponse struct {
	TaskID    string `json:"taskId"`
	StatusURL string `json:"statusUrl"`
	StreamURL string `json:"streamUrl"`
}

func accepted(c *gin.Context, taskID string) {
	c.JSON(http.StatusAccepted, TaskAcceptedResponse{
		TaskID:    taskID,
		StatusURL: "/api/v1/tasks/" + taskID,
		StreamURL: "/api/v1/tasks/" + taskID + "/ws",
	})
}

// bindAndValidate читает JSON тело и проверяет теги validate.
func (h *Handler) bindAndValidate(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		badRequest(c, fmt.Sprintf("Validation error: %v", err))
		return false
	}
	return true
}

func (h *Handler) generateStory(c *gin.Context) {
	var req GenerateStoryRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	taskID := h.tasks.Create(TaskKindStory)
	if err := h.dispatcher.Dispatch(c.Request.Context(), taskID, req); err != nil {
		h.tasks.Fail(taskID, err)
		h.logger.Error("Failed to dispatch story generation", zap.String("taskID", taskID), zap.Error(err))
		handleServiceError(c, err)
		return
	}
	h.logger.Info("Story generation accepted",
		zap.String("taskID", taskID),
		zap.String("theme", string(req.Config.Theme)),
		zap.Int("characters", len(req.Characters)),
	)
	accepted(c, taskID)
}

func (h *Handler) getTask(c *gin.Context) {
	snapshot, ok := h.tasks.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: ErrCodeTaskNotFound, Message: "Task not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// StoryListResponse - индекс сохраненных историй со сводкой хранилища.
type StoryListResponse struct {
	Stories []models.StoredStoryRecord `json:"stories"`
	Usage   storage.StoryCacheStats    `json:"usage"`
}

func (h *Handler) listStories(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, StoryListResponse{
		Stories: h.stories.ListAll(ctx),
		Usage:   h.stories.UsageStats(ctx),
	})
}

func (h *Handler) getStory(c *gin.Context) {
	story, err := h.stories.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *Handler) deleteStory(c *gin.Context) {
	if err := h.stories.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) generateCoverVideo(c *gin.Context) {
	story, err := h.stories.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if strings.TrimSpace(story.CoverImage) == "" {
		handleServiceError(c, models.ErrMissingCoverImage)
		return
	}

	taskID := h.tasks.Create(TaskKindCoverVideo)
	err = h.runner.Go(taskID, func(ctx context.Context, events chan<- models.ProgressEvent) (string, error) {
		if _, err := h.generator.GenerateCoverVideo(ctx, story, events); err != nil {
			return "", err
		}
		return story.ID, nil
	})
	if err != nil {
		h.tasks.Fail(taskID, err)
		handleServiceError(c, err)
		return
	}
	accepted(c, taskID)
}

// VideoStatusResponse - состояние видеозадания.
type VideoStatusResponse struct {
	RequestID string             `json:"requestId"`
	Status    models.VideoStatus `json:"status"`
}

func (h *Handler) videoStatus(c *gin.Context) {
	requestID := c.Param("requestId")
	status, err := h.generator.CheckVideoStatus(c.Request.Context(), requestID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, VideoStatusResponse{RequestID: requestID, Status: status})
}

func (h *Handler) videoResult(c *gin.Context) {
	result, err := h.generator.GetVideoResult(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) waitForVideo(c *gin.Context) {
	result, err := h.generator.WaitForVideo(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegeneratePanelRequest - запрос на повторную иллюстрацию панели.
type RegeneratePanelRequest struct {
	Panel      models.Panel       `json:"panel"`
	Characters []models.Character `json:"characters" validate:"dive"`
	Style      models.StoryStyle  `json:"style" validate:"required,oneof=comic picture_book fairy_tale graphic_novel pop_up"`
}

func (h *Handler) regeneratePanel(c *gin.Context) {
	var req RegeneratePanelRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	panel, err := h.generator.RegeneratePanel(c.Request.Context(), req.Panel, req.Characters, req.Style)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, panel)
}

// DesignCharacterRequest - запрос на генерацию дизайна персонажа.
type DesignCharacterRequest struct {
	Character models.Character  `json:"character"`
	Style     models.StoryStyle `json:"style" validate:"required,oneof=comic picture_book fairy_tale graphic_novel pop_up"`
}

func (h *Handler) designCharacter(c *gin.Context) {
	var req DesignCharacterRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	character, err := h.generator.DesignCharacter(c.Request.Context(), req.Character, req.Style)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, character)
}

func (h *Handler) charactersByName(c *gin.Context) {
	var names []string
	for _, name := range strings.Split(c.Query("names"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		badRequest(c, "Query parameter 'names' is required")
		return
	}
	c.JSON(http.StatusOK, h.characters.LoadForNames(c.Request.Context(), names))
}

func (h *Handler) popularCharacters(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.characters.MostUsed(c.Request.Context(), limit))
}

func (h *Handler) recentCharacters(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.characters.MostRecent(c.Request.Context(), limit))
}

func (h *Handler) characterStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.characters.UsageStats(c.Request.Context()))
}

func (h *Handler) clearCharacters(c *gin.Context) {
	if err := h.characters.ClearAll(c.Request.Context()); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		badRequest(c, fmt.Sprintf("Query parameter 'limit' must be between 1 and %d", maxListLimit))
		return 0, false
	}
	return limit, true
}
