package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/egor/supportchat/middleware"
)

// Login обрабатывает вход оператора по REST: проверяет пару логин/пароль
// и выдает JWT для последующих админских запросов
func (h *Handler) Login(c *gin.Context) {
	var loginData struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&loginData); err != nil {
		log.Printf("Login: некорректные данные: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	if err := h.sessions.VerifyCredentials(loginData.Username, loginData.Password); err != nil {
		log.Printf("Login: неверные учетные данные для %s", loginData.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := middleware.GenerateToken(loginData.Username)
	if err != nil {
		log.Printf("Login: ошибка генерации токена: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	log.Printf("Login: оператор %s вошел в систему", loginData.Username)
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"agent": loginData.Username,
	})
}
