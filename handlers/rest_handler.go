package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/egor/supportchat/storage"
)

// GetChats отдает сводки всех чатов по REST (админская панель)
func (h *Handler) GetChats(c *gin.Context) {
	summaries, err := h.chats.ChatSummaries(c.Request.Context())
	if err != nil {
		log.Printf("GetChats: ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// GetUsers отдает всех пользователей по REST (админская панель)
func (h *Handler) GetUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context(), storage.UserFilter{})
	if err != nil {
		log.Printf("GetUsers: ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// DeleteChat удаляет чат по REST, используя общий с WebSocket путь
func (h *Handler) DeleteChat(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat id"})
		return
	}

	if err := h.deleteChat(c.Request.Context(), chatID); err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		log.Printf("DeleteChat: ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Chat deleted"})
}
