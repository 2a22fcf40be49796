// Package pricinghttp exposes price recommendations, market configuration
// and retrain history over HTTP.
package pricinghttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/config/loader"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/recommend"
	"github.com/raphalvezz/loocac/internal/registry"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
)

type Recommender interface {
	Recommend(ctx context.Context, regime generator.Regime, req recommend.Request) (recommend.Recommendation, error)
}

type ReleaseRegistry interface {
	Status() registry.Status
	Reload() (*artifact.Bundle, error)
}

// MarketConfigurator persists a market document and schedules a retrain.
type MarketConfigurator interface {
	ConfigureMarket(ctx context.Context, doc scenario.MarketDocument) (store.RunRecord, error)
}

type RunHistory interface {
	Get(ctx context.Context, id string) (store.RunRecord, error)
	List(ctx context.Context, limit int) ([]store.RunRecord, error)
}

type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]store.AuditEntry, error)
	CountByCode(ctx context.Context) (map[string]int64, error)
}

const (
	codeBadRequest    = "BAD_REQUEST"
	codeConfiguration = "CONFIGURATION_ERROR"
	codeNotFound      = "NOT_FOUND"
	codeDisabled      = "DISABLED"

	maxBodyBytes = 1 << 20
)

// Router holds the handlers; nil optional collaborators disable their
// routes with 503.
type Router struct {
	rec    Recommender
	reg    ReleaseRegistry
	market MarketConfigurator
	runs   RunHistory
	audit  AuditReader
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		rec:    cfg.Recommender,
		reg:    cfg.Registry,
		market: cfg.Market,
		runs:   cfg.Runs,
		audit:  cfg.Audit,
	}
}

func (r *Router) Register(e gin.IRoutes) {
	e.GET("/", r.handleHealth)
	e.POST("/recommend_price", r.recommendHandler(generator.RegimeOneShot))
	e.POST("/recommend_subscription_price", r.recommendHandler(generator.RegimeSubscription))
	e.POST("/configure_market", r.handleConfigureMarket)
	e.POST("/reload", r.handleReload)
	e.GET("/runs", r.handleListRuns)
	e.GET("/runs/:id", r.handleGetRun)
	e.GET("/audit", r.handleAudit)
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.reg.Status()
	status := "LOCAC API Online"
	if !st.Loaded {
		status = "LOCAC API Online (not configured)"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"models_loaded": st.Loaded,
		"release":       st,
	})
}

func (r *Router) recommendHandler(regime generator.Regime) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recommend.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, codeBadRequest, false, err)
			return
		}
		out, err := r.rec.Recommend(c.Request.Context(), regime, req)
		if err != nil {
			code := recommend.Code(err)
			if code == recommend.CodeInternal || code == recommend.CodePolicyError {
				logger.Errorf("[api] recommend %s failed ip=%s: %v", regime, c.ClientIP(), err)
			} else {
				logger.Warnf("[api] recommend %s rejected ip=%s code=%s: %v", regime, c.ClientIP(), code, err)
			}
			writeError(c, statusFor(code), code, recommend.Retryable(err), err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (r *Router) handleConfigureMarket(c *gin.Context) {
	if r.market == nil {
		writeError(c, http.StatusServiceUnavailable, codeDisabled, false, errors.New("market configuration is disabled"))
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, false, err)
		return
	}
	doc, err := decodeMarket(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeConfiguration, false, err)
		return
	}
	run, err := r.market.ConfigureMarket(c.Request.Context(), doc)
	if err != nil {
		if errors.Is(err, scenario.ErrConfiguration) || errors.Is(err, loader.ErrInvalidDocument) {
			writeError(c, http.StatusBadRequest, codeConfiguration, false, err)
			return
		}
		logger.Errorf("[api] configure market failed ip=%s: %v", c.ClientIP(), err)
		writeError(c, http.StatusInternalServerError, recommend.CodeInternal, false, err)
		return
	}
	logger.Infof("[api] market configured ip=%s run=%s", c.ClientIP(), run.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"message": "market configuration saved; retraining started in background",
		"run":     run,
	})
}

// decodeMarket accepts the market document or the flat lowMin/lowMax form
// sent by the configurator UI. The flat form carries no CPA ratio; the
// configured default applies.
func decodeMarket(raw []byte) (scenario.MarketDocument, error) {
	if !gjson.ValidBytes(raw) {
		return scenario.MarketDocument{}, errors.New("body is not valid JSON")
	}
	flat := gjson.ParseBytes(raw)
	if !flat.Get("lowMin").Exists() {
		return loader.ParseDocument(raw)
	}
	doc := scenario.MarketDocument{
		LowTicketRange:  scenario.Range{Min: flat.Get("lowMin").Float(), Max: flat.Get("lowMax").Float()},
		HighTicketRange: scenario.Range{Min: flat.Get("highMin").Float(), Max: flat.Get("highMax").Float()},
		BudgetRange:     scenario.Range{Min: flat.Get("budgetMin").Float(), Max: flat.Get("budgetMax").Float()},
	}
	for _, k := range []string{"lowMax", "highMin", "highMax", "budgetMin", "budgetMax"} {
		if !flat.Get(k).Exists() {
			return doc, errors.New("missing field " + k)
		}
	}
	return doc, doc.Validate()
}

func (r *Router) handleReload(c *gin.Context) {
	b, err := r.reg.Reload()
	if err != nil {
		code := recommend.Code(err)
		if errors.Is(err, artifact.ErrVersionMismatch) || errors.Is(err, artifact.ErrChecksum) {
			code = recommend.CodeSchemaMismatch
		}
		logger.Warnf("[api] reload failed ip=%s: %v", c.ClientIP(), err)
		writeError(c, statusFor(code), code, false, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "release_id": b.Manifest.ReleaseID})
}

func (r *Router) handleListRuns(c *gin.Context) {
	if r.runs == nil {
		writeError(c, http.StatusServiceUnavailable, codeDisabled, false, errors.New("run history is disabled"))
		return
	}
	runs, err := r.runs.List(c.Request.Context(), queryLimit(c, 50, 500))
	if err != nil {
		writeError(c, http.StatusInternalServerError, recommend.CodeInternal, false, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleGetRun(c *gin.Context) {
	if r.runs == nil {
		writeError(c, http.StatusServiceUnavailable, codeDisabled, false, errors.New("run history is disabled"))
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	run, err := r.runs.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(c, http.StatusNotFound, codeNotFound, false, err)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, recommend.CodeInternal, false, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.audit == nil {
		writeError(c, http.StatusServiceUnavailable, codeDisabled, false, errors.New("audit log is disabled"))
		return
	}
	ctx := c.Request.Context()
	entries, err := r.audit.Recent(ctx, queryLimit(c, 100, 1000))
	if err != nil {
		writeError(c, http.StatusInternalServerError, recommend.CodeInternal, false, err)
		return
	}
	counts, err := r.audit.CountByCode(ctx)
	if err != nil {
		logger.Warnf("[api] audit count failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "counts": counts})
}

func queryLimit(c *gin.Context, def, upper int) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	if n > upper {
		return upper
	}
	return n
}
