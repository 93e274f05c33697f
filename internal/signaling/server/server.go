package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"webdrop/internal/signaling"
)

const DefaultPresenceTTL = 30 * time.Second

type Config struct {
	PresenceTTL time.Duration
	Logger      *logrus.Logger
}

type Server struct {
	logger *logrus.Logger
	rooms  *RoomStore
}

func New(cfg Config) *Server {
	ttl := cfg.PresenceTTL
	if ttl == 0 {
		ttl = DefaultPresenceTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		logger: logger,
		rooms:  NewRoomStore(ttl),
	}
}

// Router builds the gin router implementing the signaling REST contract.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/join", s.handleJoin)
	router.POST("/send", s.handleSend)
	router.GET("/receive", s.handleReceive)
	router.POST("/leave", s.handleLeave)

	return router
}

type joinRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

func (s *Server) handleJoin(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	clientID, peers := s.rooms.Join(req.RoomID)
	s.logger.Infof("Client %s joined room %s (%d peers present)", clientID, req.RoomID, len(peers))

	c.JSON(http.StatusOK, signaling.JoinInfo{
		SelfID: clientID,
		RoomID: req.RoomID,
		Peers:  peers,
	})
}

func (s *Server) handleSend(c *gin.Context) {
	var env signaling.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope"})
		return
	}

	switch env.Kind {
	case signaling.KindOffer, signaling.KindAnswer, signaling.KindCandidate:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported kind"})
		return
	}
	if env.TargetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targetId is required"})
		return
	}

	if !s.rooms.Append(env.RoomID, env.SenderID, env) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown client or room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReceive(c *gin.Context) {
	roomID := c.Query("roomId")
	clientID := c.Query("clientId")
	if roomID == "" || clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and clientId are required"})
		return
	}
	var since int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since marker"})
			return
		}
		since = parsed
	}

	envs, ok := s.rooms.Since(roomID, clientID, since)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown client or room"})
		return
	}
	if len(envs) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, envs)
}

type leaveRequest struct {
	RoomID   string `json:"roomId" binding:"required"`
	ClientID string `json:"clientId" binding:"required"`
}

func (s *Server) handleLeave(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and clientId are required"})
		return
	}

	if s.rooms.Leave(req.RoomID, req.ClientID) {
		s.logger.Infof("Client %s left room %s", req.ClientID, req.RoomID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
