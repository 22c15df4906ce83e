package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/profile"
	"github.com/taoyao-code/mlab-sync/internal/storage/gormrepo"
	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

// RunController 发射端会话管理器的 HTTP 视图
type RunController interface {
	StartRunNow(targets []transmitter.Target) (string, uint32, error)
	Snapshot() []transmitter.SessionView
	LastReport() (transmitter.RunReport, bool)
	Busy() bool
}

// RunHistory 运行历史（Redis 列表或 PG 归档）
type RunHistory interface {
	Recent(ctx context.Context, n int) ([]transmitter.RunReport, error)
}

// RunLookup 按 ID 查询归档
type RunLookup interface {
	Get(ctx context.Context, id string) (transmitter.RunReport, error)
}

// TransmitterHandler 发射端 API
type TransmitterHandler struct {
	runs         RunController
	profiles     *profile.Set
	profilesPath string
	history      RunHistory
	lookup       RunLookup
	logger       *zap.Logger
}

// NewTransmitterHandler 创建发射端处理器；history/lookup 可为 nil
func NewTransmitterHandler(runs RunController, profiles *profile.Set, profilesPath string, history RunHistory, lookup RunLookup, logger *zap.Logger) *TransmitterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransmitterHandler{
		runs:         runs,
		profiles:     profiles,
		profilesPath: profilesPath,
		history:      history,
		lookup:       lookup,
		logger:       logger,
	}
}

// StartRunRequest 启动运行请求：三选一
type StartRunRequest struct {
	IDs     []int                `json:"ids"`
	Group   bool                 `json:"group"`
	Targets []transmitter.Target `json:"targets"`
}

// StartRun 启动同步运行
// @Summary 启动同步运行
// @Description 按设备配置（ids / group）或显式目标列表启动 RTT 握手
// @Tags 发射端
// @Accept json
// @Produce json
// @Router /api/runs [post]
func (h *TransmitterHandler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targets, err := h.resolveTargets(req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	id, token, err := h.runs.StartRunNow(targets)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("run requested via api",
		zap.String("run_id", id),
		zap.Uint32("token", token),
		zap.Int("targets", len(targets)))
	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "token": token, "targets": targets})
}

func (h *TransmitterHandler) resolveTargets(req StartRunRequest) ([]transmitter.Target, error) {
	switch {
	case req.Group:
		return h.profiles.GroupTargets()
	case len(req.IDs) > 0:
		out := make([]transmitter.Target, 0, len(req.IDs))
		for _, id := range req.IDs {
			if id < 0 || id > 255 {
				return nil, fmt.Errorf("%w: %d", profile.ErrUnknownDevice, id)
			}
			ts, err := h.profiles.IndividualTargets(uint8(id))
			if err != nil {
				return nil, err
			}
			out = append(out, ts...)
		}
		return out, nil
	default:
		return req.Targets, nil
	}
}

// CurrentRun 当前未结算会话
// @Router /api/runs/current [get]
func (h *TransmitterHandler) CurrentRun(c *gin.Context) {
	sessions := h.runs.Snapshot()
	if sessions == nil {
		sessions = []transmitter.SessionView{}
	}
	c.JSON(http.StatusOK, gin.H{"busy": h.runs.Busy(), "sessions": sessions})
}

// RecentRuns 最近的结算报告
// @Param limit query int false "数量(默认10)"
// @Router /api/runs/recent [get]
func (h *TransmitterHandler) RecentRuns(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	if h.history != nil {
		reports, err := h.history.Recent(c.Request.Context(), limit)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"runs": reports})
			return
		}
		// 历史存储不可用时退回内存中的最近一次
		h.logger.Warn("run history unavailable", zap.Error(err))
	}

	runs := []transmitter.RunReport{}
	if last, ok := h.runs.LastReport(); ok {
		runs = append(runs, last)
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun 按运行 ID 查询归档
// @Router /api/runs/{id} [get]
func (h *TransmitterHandler) GetRun(c *gin.Context) {
	id := c.Param("id")
	if h.lookup == nil {
		if last, ok := h.runs.LastReport(); ok && last.ID == id {
			c.JSON(http.StatusOK, last)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	rep, err := h.lookup.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ListProfiles 设备配置列表
// @Router /api/profiles [get]
func (h *TransmitterHandler) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.profiles.All()})
}

// PutProfile 更新单设备配置；配置了文件路径时同步落盘
// @Router /api/profiles/{id} [put]
func (h *TransmitterHandler) PutProfile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return
	}
	var d profile.Device
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.ID = uint8(id)
	if err := h.profiles.Put(d); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if h.profilesPath != "" {
		if err := h.profiles.Save(h.profilesPath); err != nil {
			h.logger.Error("save profiles failed", zap.String("path", h.profilesPath), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, d)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrUnknownDevice), errors.Is(err, gormrepo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transmitter.ErrDuplicateToken), errors.Is(err, profile.ErrEmptyGroup):
		return http.StatusConflict
	case errors.Is(err, transmitter.ErrNoTargets),
		errors.Is(err, transmitter.ErrInvalidTarget),
		errors.Is(err, profile.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
