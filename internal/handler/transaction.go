package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/middleware"
	"fintrack/internal/models"
	"fintrack/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TransactionHandler 负责账目相关接口
type TransactionHandler struct {
	DB *gorm.DB
}

func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{DB: db}
}

// ---------- 工具函数 ----------

// convertAmountToCent 把金额（元，可以为负）转换为分
func convertAmountToCent(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// formatCentToAmount 把分转成元的字符串，两位小数
func formatCentToAmount(amountCent int64) string {
	return strconv.FormatFloat(float64(amountCent)/100.0, 'f', 2, 64)
}

// normalizeCategory 未知分类一律归到 Others
func normalizeCategory(s string) models.Category {
	c := models.Category(strings.TrimSpace(s))
	if c == "" || !c.Valid() {
		return models.CategoryOthers
	}
	return c
}

// normalizeTags 去掉空白标签
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseDateParam 解析 YYYY-MM-DD 参数
func parseDateParam(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// ---------- 请求/响应结构 ----------

type createTransactionReq struct {
	Title      string   `json:"title" binding:"required,max=128"`
	Amount     float64  `json:"amount" binding:"required"` // 元，正数收入、负数支出
	Category   string   `json:"category" binding:"max=32"`
	Note       string   `json:"note" binding:"max=255"`
	Tags       []string `json:"tags"`
	OccurredAt string   `json:"occurred_at"` // YYYY-MM-DD，默认今天
}

type transactionResp struct {
	ID         uint            `json:"id"`
	Title      string          `json:"title"`
	AmountCent int64           `json:"amount_cent"`
	Amount     string          `json:"amount"` // 元（字符串，方便前端直接显示）
	Category   models.Category `json:"category"`
	Note       string          `json:"note"`
	Tags       []string        `json:"tags"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toTransactionResp(t *models.Transaction) transactionResp {
	return transactionResp{
		ID:         t.ID,
		Title:      t.Title,
		AmountCent: t.AmountCent,
		Amount:     formatCentToAmount(t.AmountCent),
		Category:   t.Category,
		Note:       t.Note,
		Tags:       t.Tags,
		OccurredAt: t.OccurredAt,
		CreatedAt:  t.CreatedAt,
	}
}

// ---------- 记一笔 ----------

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	var req createTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "参数错误")
		return
	}

	amountCent := convertAmountToCent(req.Amount)
	if err := util.ValidateAmountCent(amountCent); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "请输入有效金额")
		return
	}

	// 交易日期：默认为今天；不能晚于今天
	occurredAt := time.Now()
	if req.OccurredAt != "" {
		t, err := parseDateParam(req.OccurredAt)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "日期格式错误，应为 YYYY-MM-DD")
			return
		}
		occurredAt = t
	}
	if occurredAt.Format("2006-01-02") > time.Now().Format("2006-01-02") {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "交易日期不能晚于今天")
		return
	}

	txn := models.Transaction{
		UserID:     user.ID,
		Title:      strings.TrimSpace(req.Title),
		AmountCent: amountCent,
		Category:   normalizeCategory(req.Category),
		Note:       strings.TrimSpace(req.Note),
		Tags:       normalizeTags(req.Tags),
		OccurredAt: occurredAt,
	}

	if err := h.DB.Create(&txn).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "保存失败，请重试")
		return
	}

	util.Success(c, util.Response{
		"transaction": toTransactionResp(&txn),
	})
}

// ListTransactions 查询账目列表，支持时间范围、分类筛选和分页
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登录")
		return
	}

	// 分页参数
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	base := h.DB.Model(&models.Transaction{}).Where("user_id = ?", user.ID)

	// 时间筛选：start / end，格式 YYYY-MM-DD
	if startStr := c.Query("start"); startStr != "" {
		start, err := parseDateParam(startStr)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "开始日期格式错误，应为 YYYY-MM-DD")
			return
		}
		base = base.Where("occurred_at >= ?", start)
	}
	if endStr := c.Query("end"); endStr != "" {
		end, err := parseDateParam(endStr)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "结束日期格式错误，应为 YYYY-MM-DD")
			return
		}
		// 结束日期按"当天结束"处理：< end+1 天
		base = base.Where("occurred_at < ?", end.Add(24*time.Hour))
	}

	// 分类筛选
	if catStr := c.Query("category"); catStr != "" {
		cat := models.Category(catStr)
		if !cat.Valid() {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "未知分类")
			return
		}
		base = base.Where("category = ?", cat)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查询失败")
		return
	}

	var txns []models.Transaction
	if err := base.Session(&gorm.Session{}).
		Order("occurred_at DESC, id DESC").
		Limit(size).
		Offset(offset).
		Find(&txns).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查询失败")
		return
	}

	items := make([]transactionResp, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResp(&txns[i]))
	}

	// 相同筛选条件下的收支汇总
	type sums struct {
		IncomeCent  int64
		ExpenseCent int64
	}
	var s sums
	if err := base.Session(&gorm.Session{}).
		Select("COALESCE(SUM(CASE WHEN amount_cent > 0 THEN amount_cent ELSE 0 END), 0) AS income_cent, " +
			"COALESCE(SUM(CASE WHEN amount_cent < 0 THEN -amount_cent ELSE 0 END), 0) AS expense_cent").
		Scan(&s).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "统计失败")
		return
	}

	util.Success(c, util.Response{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
		"summary": gin.H{
			"total_income_cent":  s.IncomeCent,
			"total_income":       formatCentToAmount(s.IncomeCent),
			"total_expense_cent": s.ExpenseCent,
			"total_expense":      formatCentToAmount(s.ExpenseCent),
			"balance_cent":       s.IncomeCent - s.ExpenseCent,
			"balance":            formatCentToAmount(s.IncomeCent - s.ExpenseCent),
		},
	})
}

// DeleteTransaction 删除一条记录（只能删除自己的）
func (h *TransactionHandler) DeleteTransaction(c *gin.Context) {
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
		Delete(&models.Transaction{}).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "删除失败")
		return
	}

	util.Success(c, util.Response{
		"message": "删除成功",
	})
}
