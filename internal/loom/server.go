package loom

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/treadle/loomctl/internal/auth"
	"github.com/treadle/loomctl/internal/entry"
	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/observability"
	"github.com/treadle/loomctl/internal/protocol"
)

const defaultAdminJoinWait = 30 * time.Second

func (s *Service) newAdminRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminTelemetry(s.cfg.LoomID, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.registerAdminRoutes(r)
	return r
}

func (s *Service) adminValidator() auth.Validator {
	token := strings.TrimSpace(s.cfg.AdminToken)
	if token == "" {
		return auth.NoAuth{}
	}
	return auth.StaticToken{Token: token}
}

func requireAdminToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if err := v.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func (s *Service) registerAdminRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		threads, pending, dead := s.counts()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"loom":    s.cfg.LoomID,
			"uptime":  time.Since(s.started).String(),
			"threads": threads,
			"pending": pending,
			"dead":    dead,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready": true,
			"loom":  s.cfg.LoomID,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/entries", requireAdminToken(s.adminValidator()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": s.rt.Registry().Names()})
	})

	guarded := r.Group("/threads", requireAdminToken(s.adminValidator()))

	guarded.GET("", func(c *gin.Context) {
		tracked := s.Threads()
		list := make([]Status, 0, len(tracked))
		for _, t := range tracked {
			list = append(list, t.Status())
		}
		c.JSON(http.StatusOK, gin.H{"threads": list})
	})

	guarded.POST("", func(c *gin.Context) {
		t, err := s.SpawnThread(c.Request.Context())
		if err != nil {
			c.JSON(httpStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "thread": t.Status()})
	})

	guarded.GET("/:id", func(c *gin.Context) {
		t, ok := s.threadParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"thread": t.Status()})
	})

	guarded.POST("/:id/dispatch", func(c *gin.Context) {
		t, ok := s.threadParam(c)
		if !ok {
			return
		}
		var req dispatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.handleDispatch(c, t, req)
	})

	guarded.POST("/:id/dispose", func(c *gin.Context) {
		t, ok := s.threadParam(c)
		if !ok {
			return
		}
		t.Dispose()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "thread": t.Status()})
	})

	guarded.GET("/:id/join", func(c *gin.Context) {
		t, ok := s.threadParam(c)
		if !ok {
			return
		}
		wait := defaultAdminJoinWait
		if raw := c.Query("max_wait_ms"); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || ms <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_wait_ms"})
				return
			}
			wait = time.Duration(ms) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()
		if err := t.JoinContext(ctx); err != nil {
			status := httpStatusForError(err)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrJoinPollsExhausted) {
				status = http.StatusRequestTimeout
			}
			c.JSON(status, gin.H{"error": err.Error(), "pending": t.PendingCount()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "pending": t.PendingCount()})
	})

	guarded.POST("/:id/message", func(c *gin.Context) {
		t, ok := s.threadParam(c)
		if !ok {
			return
		}
		var req messageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := t.PostMessage(req.Payload); err != nil {
			c.JSON(httpStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type dispatchRequest struct {
	Entry  string          `json:"entry"`
	Param  json.RawMessage `json:"param"`
	WaitMS int64           `json:"wait_ms"`
}

type messageRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// handleDispatch runs one admin-initiated dispatch. A positive wait_ms
// attaches a result callback and holds the request open for up to that
// long; wait_ms of zero dispatches fire-and-forget, so the thread's
// pending-task precondition applies.
func (s *Service) handleDispatch(c *gin.Context, t *Thread, req dispatchRequest) {
	ref := ByName(req.Entry)

	if req.WaitMS <= 0 {
		taskID, err := t.Dispatch(ref, req.Param, nil)
		if err != nil {
			c.JSON(httpStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "task_id": taskID})
		return
	}

	results := make(chan []byte, 1)
	taskID, err := t.Dispatch(ref, req.Param, func(_ *Thread, _, result []byte) {
		results <- result
	})
	if err != nil {
		c.JSON(httpStatusForError(err), gin.H{"error": err.Error()})
		return
	}

	select {
	case result := <-results:
		body := gin.H{"status": "done", "task_id": taskID}
		if json.Valid(result) {
			body["result"] = json.RawMessage(result)
		} else {
			body["result"] = string(result)
		}
		c.JSON(http.StatusOK, body)
	case <-time.After(time.Duration(req.WaitMS) * time.Millisecond):
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "task_id": taskID})
	}
}

func (s *Service) threadParam(c *gin.Context) (*Thread, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread id"})
		return nil, false
	}
	t, ok := s.Thread(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrThreadNotFound.Error()})
		return nil, false
	}
	return t, true
}

func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, entry.ErrNotRegistered),
		errors.Is(err, entry.ErrEntryNil),
		errors.Is(err, ErrUnnamedEntry),
		errors.Is(err, protocol.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, ErrThreadDead),
		errors.Is(err, ErrResultWouldBeLost),
		errors.Is(err, ErrNoWorker):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	router := s.newAdminRouter()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	logs.Infof("loom.Service.admin listening addr=%q", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	if err := http.Serve(ln, router); err != nil {
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
