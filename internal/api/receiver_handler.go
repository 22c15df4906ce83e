package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/receiver"
)

// ReceiverHandler 接收端本地管理 API（替代物理按键菜单）
type ReceiverHandler struct {
	node   *receiver.Node
	logger *zap.Logger
}

// NewReceiverHandler 创建接收端处理器
func NewReceiverHandler(node *receiver.Node, logger *zap.Logger) *ReceiverHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiverHandler{node: node, logger: logger}
}

// Status 设备号、模式与序列状态
// @Router /api/status [get]
func (h *ReceiverHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.Status())
}

type deviceIDRequest struct {
	DeviceID int `json:"device_id" binding:"required"`
}

// SetDeviceID 修改并持久化设备号，仅 ID_SET 模式可用
// @Router /api/device-id [put]
func (h *ReceiverHandler) SetDeviceID(c *gin.Context) {
	var req deviceIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.node.Modes.Mode() != receiver.ModeIDSet {
		c.JSON(http.StatusConflict, gin.H{"error": "device id can only be changed in ID_SET mode"})
		return
	}
	if req.DeviceID < 0 || req.DeviceID > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": receiver.ErrInvalidDeviceID.Error()})
		return
	}
	if err := h.node.Identity.SetDeviceID(c.Request.Context(), uint8(req.DeviceID)); err != nil {
		c.JSON(receiverStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": h.node.Identity.DeviceID()})
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetMode 切换管理模式
// @Router /api/mode [put]
func (h *ReceiverHandler) SetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := receiver.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.Modes.SwitchTo(m); err != nil {
		c.JSON(receiverStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": h.node.Modes.Mode().String()})
}

type manualRunRequest struct {
	DelayMs uint32 `json:"delay_ms"`
	PlayMs  uint32 `json:"play_ms" binding:"required"`
}

// ManualRun TEST 模式下本地触发一次序列
// @Router /api/manual-run [post]
func (h *ReceiverHandler) ManualRun(c *gin.Context) {
	var req manualRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.Modes.ManualRun(req.DelayMs, req.PlayMs); err != nil {
		c.JSON(receiverStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("manual run started", zap.Uint32("delay_ms", req.DelayMs), zap.Uint32("play_ms", req.PlayMs))
	c.JSON(http.StatusAccepted, h.node.Status())
}

// Stop 本地中断当前序列
// @Router /api/stop [post]
func (h *ReceiverHandler) Stop(c *gin.Context) {
	stopped := h.node.Modes.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

func receiverStatus(err error) int {
	switch {
	case errors.Is(err, receiver.ErrModeBusy), errors.Is(err, receiver.ErrNotTestMode):
		return http.StatusConflict
	case errors.Is(err, receiver.ErrUnknownMode), errors.Is(err, receiver.ErrInvalidDeviceID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
