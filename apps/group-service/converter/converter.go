package converter

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trekmate/apps/group-service/model"
	"trekmate/apps/group-service/service"
	"trekmate/pkg/apperr"
)

// 接受的日期格式：完整时间戳或仅日期
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// CreateGroupRequest 创建群组请求
type CreateGroupRequest struct {
	Name              string `json:"name"`
	TrekRoute         string `json:"trekRoute"`
	Description       string `json:"description"`
	StartDate         string `json:"startDate"`
	EndDate           string `json:"endDate"`
	GroupSize         int    `json:"groupSize" binding:"omitempty,min=1"`
	AdditionalMembers int    `json:"additionalMembers" binding:"omitempty,min=0"`
	GenderPreference  string `json:"genderPreference" binding:"omitempty,gender"`
	AgeFrom           int    `json:"ageFrom" binding:"omitempty,min=0"`
	AgeTo             int    `json:"ageTo" binding:"omitempty,min=0"`
	GroupImage        string `json:"groupImage"`
}

// TrekDetailsUpdate 可修改的行程字段
type TrekDetailsUpdate struct {
	AdditionalMembers *int    `json:"additionalMembers"`
	GenderPreference  *string `json:"genderPreference"`
	AgeFrom           *int    `json:"ageFrom"`
	AgeTo             *int    `json:"ageTo"`
}

// UpdateGroupRequest 修改群组请求，未列出的字段忽略
type UpdateGroupRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	IsOpen      *bool              `json:"isOpen"`
	GroupImage  *string            `json:"groupImage"`
	TrekDetails *TrekDetailsUpdate `json:"trekDetails"`
}

// Converter 请求与服务层参数之间的转换
type Converter struct{}

// NewConverter 创建转换器实例
func NewConverter() *Converter {
	return &Converter{}
}

// CreateInput 必填项缺失或日期无法解析时返回400
func (c *Converter) CreateInput(req *CreateGroupRequest) (service.CreateGroupInput, error) {
	if req.StartDate == "" || req.EndDate == "" {
		return service.CreateGroupInput{}, apperr.BadRequest(model.MsgRequiredFields)
	}
	start, err := ParseDate(req.StartDate)
	if err != nil {
		return service.CreateGroupInput{}, apperr.BadRequest("Invalid start date")
	}
	end, err := ParseDate(req.EndDate)
	if err != nil {
		return service.CreateGroupInput{}, apperr.BadRequest("Invalid end date")
	}
	return service.CreateGroupInput{
		Name:              req.Name,
		TrekRoute:         req.TrekRoute,
		Description:       req.Description,
		StartDate:         start,
		EndDate:           end,
		GroupSize:         req.GroupSize,
		AdditionalMembers: req.AdditionalMembers,
		GenderPreference:  req.GenderPreference,
		AgeFrom:           req.AgeFrom,
		AgeTo:             req.AgeTo,
		GroupImage:        req.GroupImage,
	}, nil
}

// GroupUpdate 只保留允许修改的字段
func (c *Converter) GroupUpdate(req *UpdateGroupRequest) *model.GroupUpdate {
	u := &model.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsOpen:      req.IsOpen,
		GroupImage:  req.GroupImage,
	}
	if td := req.TrekDetails; td != nil {
		u.AdditionalMembers = td.AdditionalMembers
		u.GenderPreference = td.GenderPreference
		u.AgeFrom = td.AgeFrom
		u.AgeTo = td.AgeTo
	}
	return u
}

// ListQuery 解析列表查询参数，isOpen 仅 "false" 表示已关闭的群
func (c *Converter) ListQuery(ctx *gin.Context, page, limit int) (model.ListQuery, error) {
	q := model.ListQuery{
		Search:  strings.TrimSpace(ctx.Query("search")),
		IsOpen:  ctx.Query("isOpen") != "false",
		SortBy:  ctx.DefaultQuery("sortBy", "createdAt"),
		SortAsc: ctx.Query("sortOrder") == "asc",
		Page:    page,
		Limit:   limit,
	}
	if v := ctx.Query("startDateFrom"); v != "" {
		t, err := ParseDate(v)
		if err != nil {
			return q, apperr.BadRequest("Invalid startDateFrom")
		}
		q.StartDateFrom = &t
	}
	if v := ctx.Query("startDateTo"); v != "" {
		t, err := ParseDate(v)
		if err != nil {
			return q, apperr.BadRequest("Invalid startDateTo")
		}
		q.StartDateTo = &t
	}
	return q, nil
}

// ParseDate 解析为UTC时间
func ParseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
