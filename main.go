package main

import (
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/egor/supportchat/chat"
	"github.com/egor/supportchat/config"
	"github.com/egor/supportchat/handlers"
	"github.com/egor/supportchat/llm"
	"github.com/egor/supportchat/middleware"
	"github.com/egor/supportchat/session"
	"github.com/egor/supportchat/storage"
	"github.com/egor/supportchat/ws"
)

func main() {
	cfg := config.Load()
	middleware.Setup(cfg.JWTSecret)

	// Инициализация хранилища
	var store storage.Store
	switch cfg.StorageDriver {
	case "postgres":
		pg, err := storage.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Ошибка подключения к базе данных: %v", err)
		}
		store = pg
		log.Println("Хранилище: PostgreSQL")
	case "memory":
		store = storage.NewMemoryStore()
		log.Println("Хранилище: память процесса")
	default:
		log.Fatalf("Неизвестный драйвер хранилища: %s", cfg.StorageDriver)
	}
	defer store.Close()

	chats := chat.NewService(store)
	sessions := session.NewManager(store, session.Credentials{
		Login:        cfg.AgentLogin,
		Password:     cfg.AgentPassword,
		PasswordHash: cfg.AgentPasswordHash,
	})
	hub := ws.NewHub()

	// Автогенерация контекста включается отдельно: без LLM сервер
	// полностью работоспособен
	var contexter *llm.Contexter
	if cfg.AutoContext {
		contexter = llm.NewContexter(llm.NewClient(cfg.LLMAPIURL, cfg.LLMModel, cfg.LLMTimeout))
		log.Println("Автоконтекст включен")
	}

	h := handlers.New(store, chats, sessions, hub, cfg, contexter)

	// Инициализация роутера Gin
	r := gin.Default()

	// Добавляем middleware для логирования
	r.Use(middleware.Logger())

	// Настройка CORS для взаимодействия с фронтендом
	allowOrigins := append([]string{cfg.FrontendURL}, cfg.AdditionalOrigins...)
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// API эндпоинты
	api := r.Group("/api")
	{
		// Эндпоинт для авторизации оператора (публичный)
		api.POST("/auth/login", h.Login)

		// Защищенные маршруты
		authorized := api.Group("/")
		authorized.Use(middleware.AuthMiddleware())
		{
			authorized.GET("/chats", h.GetChats)
			authorized.GET("/users", h.GetUsers)
			authorized.DELETE("/chats/:id", h.DeleteChat)
		}
	}

	// WebSocket эндпоинт
	r.GET("/ws", h.ServeWs)

	// Проверка живости (для балансировщика/мониторинга)
	r.GET("/health", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Запуск сервера
	log.Printf("Сервер запущен на %s", cfg.Addr())
	if err := r.Run(cfg.Addr()); err != nil {
		log.Fatalf("Ошибка запуска сервера: %v", err)
	}
}
