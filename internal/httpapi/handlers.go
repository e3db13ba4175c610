package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fundingcalc/internal/calculator"
	"fundingcalc/internal/service"
	"fundingcalc/internal/storage"
)

type calculateRequest struct {
	Symbol     string          `json:"symbol"`
	InputType  string          `json:"inputType"`
	InputValue decimal.Decimal `json:"inputValue"`
	StartDate  string          `json:"startDate"`
	EndDate    string          `json:"endDate"`
}

type calculateResponse struct {
	Success             bool              `json:"success"`
	Data                calculator.Result `json:"data"`
	DataCount           int               `json:"dataCount"`
	ServedFromCacheOnly bool              `json:"servedFromCacheOnly"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleCalculate(c *gin.Context) {
	var body calculateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	resp, err := s.svc.Calculate(c.Request.Context(), service.Request{
		Symbol:      body.Symbol,
		SizingMode:  body.InputType,
		SizingValue: body.InputValue,
		StartDate:   body.StartDate,
		EndDate:     body.EndDate,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, calculateResponse{
		Success:             true,
		Data:                resp.Result,
		DataCount:           resp.EventCount,
		ServedFromCacheOnly: resp.ServedFromCacheOnly,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := s.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := s.svc.RecentCalculations(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "history storage not configured"})
			return
		}
		s.logger.Error().Err(err).Msg("list calculation history failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load history"})
		return
	}
	if records == nil {
		records = []storage.CalculationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

func (s *Server) handleSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"symbols":     service.SymbolPresets,
		"datePresets": service.DatePresets,
	})
}

// writeError maps service errors onto short, user-facing reasons.
func (s *Server) writeError(c *gin.Context, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: vErr.Error()})
	case errors.Is(err, calculator.ErrEmptyInput):
		c.JSON(http.StatusNotFound, errorResponse{Error: "no data found"})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, errorResponse{Error: "upstream unavailable"})
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("calculation timed out")
		c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "calculation timed out"})
	default:
		s.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("calculation failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "calculation failed"})
	}
}
