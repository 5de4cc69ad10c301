package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/middleware"
	"fintrack/internal/models"
	"fintrack/internal/recurring"
	"fintrack/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RecurringHandler 负责周期记账规则的管理接口和手动批处理入口
type RecurringHandler struct {
	DB      *gorm.DB
	Service *recurring.Service
}

func NewRecurringHandler(db *gorm.DB, svc *recurring.Service) *RecurringHandler {
	return &RecurringHandler{DB: db, Service: svc}
}

// ---------- 请求/响应结构 ----------

type ruleReq struct {
	Title      string   `json:"title" binding:"required,max=128"`
	Amount     float64  `json:"amount" binding:"required"` // 元，正数收入、负数支出
	Category   string   `json:"category" binding:"max=32"`
	Note       string   `json:"note" binding:"max=255"`
	Tags       []string `json:"tags"`
	Frequency  string   `json:"frequency" binding:"required,oneof=daily weekly monthly yearly"`
	DayOfWeek  *int     `json:"day_of_week"`  // 0-6，周日为 0；weekly 必填
	DayOfMonth *int     `json:"day_of_month"` // 1-31；monthly 必填
	StartDate  string   `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate    string   `json:"end_date"`                      // YYYY-MM-DD，空表示不限
}

type ruleResp struct {
	ID                uint            `json:"id"`
	Title             string          `json:"title"`
	AmountCent        int64           `json:"amount_cent"`
	Amount            string          `json:"amount"`
	Category          models.Category `json:"category"`
	Note              string          `json:"note"`
	Tags              []string        `json:"tags"`
	Frequency         string          `json:"frequency"`
	DayOfWeek         *int            `json:"day_of_week,omitempty"`
	DayOfMonth        *int            `json:"day_of_month,omitempty"`
	StartDate         string          `json:"start_date"`
	EndDate           string          `json:"end_date,omitempty"`
	IsActive          bool            `json:"is_active"`
	LastProcessedDate string          `json:"last_processed_date,omitempty"`
	NextProcessDate   string          `json:"next_process_date"`
	CreatedAt         time.Time       `json:"created_at"`
}

func toRuleResp(r *models.RecurringRule) ruleResp {
	resp := ruleResp{
		ID:              r.ID,
		Title:           r.Title,
		AmountCent:      r.AmountCent,
		Amount:          formatCentToAmount(r.AmountCent),
		Category:        r.Category,
		Note:            r.Note,
		Tags:            r.Tags,
		Frequency:       string(r.Frequency),
		DayOfWeek:       r.DayOfWeek,
		DayOfMonth:      r.DayOfMonth,
		StartDate:       r.StartDate.Format("2006-01-02"),
		IsActive:        r.IsActive,
		NextProcessDate: r.NextProcessDate.Format("2006-01-02"),
		CreatedAt:       r.CreatedAt,
	}
	if r.EndDate != nil {
		resp.EndDate = r.EndDate.Format("2006-01-02")
	}
	if r.LastProcessedDate != nil {
		resp.LastProcessedDate = r.LastProcessedDate.Format("2006-01-02")
	}
	return resp
}

// parseRuleReq 做字段级校验并转换成模型字段
func parseRuleReq(req *ruleReq) (*models.RecurringRule, string) {
	amountCent := convertAmountToCent(req.Amount)
	if err := util.ValidateAmountCent(amountCent); err != nil {
		return nil, "请输入有效金额"
	}

	freq := models.Frequency(req.Frequency)
	if err := util.ValidateRecurrence(freq, req.DayOfWeek, req.DayOfMonth); err != nil {
		if freq == models.FrequencyWeekly {
			return nil, "weekly 频率必须提供 0-6 的 day_of_week"
		}
		return nil, "monthly 频率必须提供 1-31 的 day_of_month"
	}

	startDate, err := parseDateParam(req.StartDate)
	if err != nil {
		return nil, "开始日期格式错误，应为 YYYY-MM-DD"
	}
	startDate = recurring.Midnight(startDate)

	var endDate *time.Time
	if req.EndDate != "" {
		end, err := parseDateParam(req.EndDate)
		if err != nil {
			return nil, "结束日期格式错误，应为 YYYY-MM-DD"
		}
		end = recurring.Midnight(end)
		endDate = &end
	}
	if err := util.ValidateDateRange(startDate, endDate); err != nil {
		return nil, "结束日期不能早于开始日期"
	}

	return &models.RecurringRule{
		Title:      strings.TrimSpace(req.Title),
		AmountCent: amountCent,
		Category:   normalizeCategory(req.Category),
		Note:       strings.TrimSpace(req.Note),
		Tags:       normalizeTags(req.Tags),
		Frequency:  freq,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		StartDate:  startDate,
		EndDate:    endDate,
	}, ""
}

// ---------- 创建规则 ----------

func (h *RecurringHandler) CreateRule(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	var req ruleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "参数错误")
		return
	}

	rule, msg := parseRuleReq(&req)
	if msg != "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, msg)
		return
	}

	rule.UserID = user.ID
	rule.IsActive = true
	// 初始游标从开始日期推：第一次入账日一定不早于开始日期
	rule.NextProcessDate = recurring.NextOccurrence(rule.Frequency, rule.StartDate, rule.DayOfWeek, rule.DayOfMonth)

	if err := h.DB.Create(rule).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "保存失败，请重试")
		return
	}

	util.Success(c, util.Response{
		"rule": toRuleResp(rule),
	})
}

// ---------- 查询规则 ----------

func (h *RecurringHandler) ListRules(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	q := h.DB.Where("user_id = ?", user.ID)
	// 可选的启用状态筛选：?is_active=true / false
	if v := c.Query("is_active"); v != "" {
		q = q.Where("is_active = ?", v == "true")
	}

	var rules []models.RecurringRule
	if err := q.Order("created_at DESC, id DESC").Find(&rules).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查询失败")
		return
	}

	items := make([]ruleResp, 0, len(rules))
	for i := range rules {
		items = append(items, toRuleResp(&rules[i]))
	}

	util.Success(c, util.Response{
		"items": items,
		"count": len(items),
	})
}

func (h *RecurringHandler) GetRule(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	rule, ok := h.loadOwnRule(c, user.ID)
	if !ok {
		return
	}

	util.Success(c, util.Response{
		"rule": toRuleResp(rule),
	})
}

// loadOwnRule 按路径参数加载当前用户自己的规则，失败时已写好响应
func (h *RecurringHandler) loadOwnRule(c *gin.Context, userID uint) (*models.RecurringRule, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "ID 不合法")
		return nil, false
	}

	var rule models.RecurringRule
	if err := h.DB.Where("id = ? AND user_id = ?", id, userID).First(&rule).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "规则不存在")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查询失败")
		}
		return nil, false
	}
	return &rule, true
}

// ---------- 修改规则 ----------

// UpdateRule 全量更新规则定义。频率或日期字段变化时重算 next_process_date；
// last_processed_date 属于调度器，这里永远不碰。
func (h *RecurringHandler) UpdateRule(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	rule, ok := h.loadOwnRule(c, user.ID)
	if !ok {
		return
	}

	var req ruleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "参数错误")
		return
	}

	updated, msg := parseRuleReq(&req)
	if msg != "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, msg)
		return
	}

	recompute := updated.Frequency != rule.Frequency ||
		!updated.StartDate.Equal(recurring.Midnight(rule.StartDate)) ||
		!intPtrEqual(updated.DayOfWeek, rule.DayOfWeek) ||
		!intPtrEqual(updated.DayOfMonth, rule.DayOfMonth)

	rule.Title = updated.Title
	rule.AmountCent = updated.AmountCent
	rule.Category = updated.Category
	rule.Note = updated.Note
	rule.Tags = updated.Tags
	rule.Frequency = updated.Frequency
	rule.DayOfWeek = updated.DayOfWeek
	rule.DayOfMonth = updated.DayOfMonth
	rule.StartDate = updated.StartDate
	rule.EndDate = updated.EndDate

	// 只更新定义字段，避免把调度器刚推进的游标写回旧值
	columns := []string{
		"title", "amount_cent", "category", "note", "tags",
		"frequency", "day_of_week", "day_of_month", "start_date", "end_date",
	}
	if recompute {
		rule.NextProcessDate = recurring.NextOccurrence(rule.Frequency, rule.StartDate, rule.DayOfWeek, rule.DayOfMonth)
		columns = append(columns, "next_process_date")
	}

	if err := h.DB.Model(rule).Select(columns).Updates(rule).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "保存失败，请重试")
		return
	}

	util.Success(c, util.Response{
		"rule": toRuleResp(rule),
	})
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ---------- 启停和删除 ----------

// ToggleRule 启用/停用规则。停用只是不再产生新账目，历史记录不受影响。
func (h *RecurringHandler) ToggleRule(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	rule, ok := h.loadOwnRule(c, user.ID)
	if !ok {
		return
	}

	rule.IsActive = !rule.IsActive
	if err := h.DB.Model(rule).Update("is_active", rule.IsActive).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "保存失败，请重试")
		return
	}

	util.Success(c, util.Response{
		"rule": toRuleResp(rule),
	})
}

// DeleteRule 删除规则。已生成的账目保留。
func (h *RecurringHandler) DeleteRule(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "ID 不合法")
		return
	}

	if err := h.DB.
		Where("id = ? AND user_id = ?", id, user.ID).
		Delete(&models.RecurringRule{}).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "删除失败")
		return
	}

	util.Success(c, util.Response{
		"message": "删除成功",
	})
}

// ---------- 手动批处理 ----------

// ProcessNow 立刻跑一轮批处理，和定时任务走同一个入口。
func (h *RecurringHandler) ProcessNow(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	batch, err := h.Service.Run(c.Request.Context(), models.TriggerManual, time.Now())
	if err != nil {
		// 全局失败：连候选集都查不出来
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "批处理失败："+err.Error())
		return
	}

	util.Success(c, util.Response{
		"total":     batch.Total,
		"processed": batch.Processed,
		"results":   batch.Results,
	})
}

// ListRuns 查看最近的批处理执行记录
func (h *RecurringHandler) ListRuns(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	var runs []models.JobRun
	if err := h.DB.Order("id DESC").Limit(50).Find(&runs).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查询失败")
		return
	}

	util.Success(c, util.Response{
		"items": runs,
		"count": len(runs),
	})
}
