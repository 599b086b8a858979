package handler

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"studybuddy/internal/app"
	"studybuddy/internal/pkg/pdfextract"
	"studybuddy/internal/transport/http/middleware"
	"studybuddy/internal/transport/http/response"
)

const maxUploadBytes = 32 << 20

type StudyHandler struct {
	materialService *app.MaterialService
	studyService    *app.StudyService
	turnService     *app.TurnService
}

type CreateSessionRequest struct {
	CollectionID uint   `json:"collection_id" binding:"required,gt=0"`
	Title        string `json:"title" binding:"max=128"`
}

type SubmitTurnRequest struct {
	SessionID uint   `json:"session_id" binding:"required,gt=0"`
	Content   string `json:"content" binding:"required"`
}

func NewStudyHandler(materialService *app.MaterialService, studyService *app.StudyService, turnService *app.TurnService) *StudyHandler {
	return &StudyHandler{
		materialService: materialService,
		studyService:    studyService,
		turnService:     turnService,
	}
}

// UploadMaterials accepts a multipart form with repeated "files" parts and an
// optional "collection_name" field. PDFs must parse; .txt is taken as-is.
func (h *StudyHandler) UploadMaterials(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}

	parts := form.File["files"]
	if len(parts) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no files in form")
		return
	}

	uploads := make([]app.FileUpload, 0, len(parts))
	for _, part := range parts {
		if part.Size > maxUploadBytes {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large: "+part.Filename)
			return
		}

		ext := strings.ToLower(filepath.Ext(part.Filename))
		if ext != ".pdf" && ext != ".txt" {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "unsupported file type: "+part.Filename)
			return
		}

		file, err := part.Open()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
			return
		}
		content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		_ = file.Close()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
			return
		}

		if ext == ".pdf" {
			if _, err := pdfextract.ExtractText(bytes.NewReader(content)); err != nil {
				response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "unreadable pdf: "+part.Filename)
				return
			}
		}

		uploads = append(uploads, app.FileUpload{Name: part.Filename, Content: content})
	}

	collectionName := c.PostForm("collection_name")
	result, err := h.materialService.UploadMaterials(c.Request.Context(), app.UploadMaterialsInput{
		UserID:         userID,
		CollectionName: collectionName,
		Files:          uploads,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrNoFiles), errors.Is(err, app.ErrFileEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload materials failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *StudyHandler) ListFiles(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	files, err := h.materialService.ListFiles(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list files failed")
		return
	}
	response.OK(c, files)
}

func (h *StudyHandler) ListCollections(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	collections, err := h.materialService.ListCollections(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list collections failed")
		return
	}
	response.OK(c, collections)
}

func (h *StudyHandler) CreateSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.studyService.CreateSession(c.Request.Context(), app.CreateSessionInput{
		UserID:       userID,
		CollectionID: req.CollectionID,
		Title:        req.Title,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrCollectionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeCollectionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create session failed")
		}
		return
	}

	response.OK(c, session)
}

func (h *StudyHandler) ListSessions(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.studyService.ListSessions(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *StudyHandler) DeleteSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}

	if err := h.studyService.DeleteSession(c.Request.Context(), userID, uint(sessionID64)); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete session failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_session_id": uint(sessionID64)})
}

func (h *StudyHandler) GetHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID64, err := strconv.ParseUint(c.Query("session_id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	history, err := h.studyService.GetHistory(c.Request.Context(), userID, uint(sessionID64))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	response.OK(c, history)
}

func (h *StudyHandler) SubmitTurn(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SubmitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.turnService.Submit(c.Request.Context(), app.SubmitTurnInput{
		UserID:    userID,
		SessionID: req.SessionID,
		Content:   req.Content,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		case errors.Is(err, app.ErrCollectionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeCollectionNotFound, err.Error())
		case errors.Is(err, app.ErrTurnInFlight):
			response.Error(c, http.StatusConflict, response.CodeTurnInFlight, err.Error())
		case errors.Is(err, app.ErrRunTimeout):
			response.Error(c, http.StatusGatewayTimeout, response.CodeTurnTimeout, err.Error())
		case errors.Is(err, app.ErrRunFailed):
			response.Error(c, http.StatusBadGateway, response.CodeTurnFailed, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "submit turn failed")
		}
		return
	}

	response.OK(c, result)
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}
