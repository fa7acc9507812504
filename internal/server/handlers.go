package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethersentinel/sentinel/internal/dispatch"
	"github.com/ethersentinel/sentinel/internal/monitor"
	"github.com/ethersentinel/sentinel/internal/realtime"
	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// evaluateOptions overrides the server's default evaluation options per
// request. Pointer fields distinguish "absent" from zero values.
type evaluateOptions struct {
	UseModel            *bool    `json:"useModel,omitempty"`
	Detailed            bool     `json:"detailed,omitempty"`
	GraphDepth          int      `json:"graphDepth,omitempty"`
	TimeWindowDays      int      `json:"timeWindowDays,omitempty"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
}

func (s *Server) resolveOptions(o *evaluateOptions) risk.EvaluationOptions {
	opts := s.baseOptions()
	if o == nil {
		return opts
	}
	opts.Detailed = o.Detailed
	if o.UseModel != nil {
		opts.UseModel = *o.UseModel
	}
	if o.GraphDepth > 0 {
		opts.GraphDepth = o.GraphDepth
	}
	if o.TimeWindowDays > 0 {
		opts.TimeWindowDays = o.TimeWindowDays
	}
	if o.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = *o.ConfidenceThreshold
	}
	return opts
}

type evaluateRequest struct {
	Kind      string           `json:"kind"`
	Reference string           `json:"reference"`
	Options   *evaluateOptions `json:"options,omitempty"`
}

func (s *Server) evaluateHandler(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}

	if errs := validation.Validate(
		validation.Required("kind", req.Kind),
		validation.ValidKind("kind", req.Kind),
		validation.Required("reference", req.Reference),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	target, err := risk.NewTarget(risk.Kind(req.Kind), validation.SanitizeReference(req.Reference))
	if err != nil {
		writeError(c, err)
		return
	}

	verdict, err := s.dispatcher.Evaluate(c.Request.Context(), target, s.resolveOptions(req.Options))
	if err != nil {
		writeError(c, err)
		return
	}

	s.hub.BroadcastVerdict(verdict)
	c.JSON(http.StatusOK, verdict)
}

type batchRequest struct {
	Targets []dispatch.TargetRequest `json:"targets"`
	Options *evaluateOptions         `json:"options,omitempty"`
}

// batchResultResponse flattens a batch result for JSON, rendering the
// error as its kind and message.
type batchResultResponse struct {
	Request dispatch.TargetRequest `json:"request"`
	Verdict *risk.Verdict          `json:"verdict,omitempty"`
	Error   *errorBody             `json:"error,omitempty"`
}

type batchResponse struct {
	Results     []batchResultResponse `json:"results"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	StartedAt   time.Time             `json:"startedAt"`
	CompletedAt time.Time             `json:"completedAt"`
}

func (s *Server) evaluateBatchHandler(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}

	if len(req.Targets) == 0 {
		badRequest(c, "empty_batch", "targets must contain at least one entry")
		return
	}
	if errs := validation.Validate(
		validation.MaxItems("targets", len(req.Targets), validation.MaxBatchTargets),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	report := s.dispatcher.EvaluateBatch(c.Request.Context(), req.Targets, s.resolveOptions(req.Options))

	resp := batchResponse{
		Results:     make([]batchResultResponse, len(report.Results)),
		Succeeded:   report.Succeeded(),
		Failed:      report.Failed(),
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	for i, res := range report.Results {
		out := batchResultResponse{Request: res.Request, Verdict: res.Verdict}
		if res.Err != nil {
			out.Error = toErrorBody(res.Err)
		} else if res.Verdict != nil {
			s.hub.BroadcastVerdict(res.Verdict)
		}
		resp.Results[i] = out
	}
	c.JSON(http.StatusOK, resp)
}

type relationsRequest struct {
	Kind          string  `json:"kind"`
	Reference     string  `json:"reference"`
	Depth         int     `json:"depth,omitempty"`
	MinEdgeWeight float64 `json:"minEdgeWeight,omitempty"`
}

func (s *Server) relationsHandler(c *gin.Context) {
	var req relationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}

	if errs := validation.Validate(
		validation.Required("kind", req.Kind),
		validation.ValidKind("kind", req.Kind),
		validation.Required("reference", req.Reference),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	center, err := risk.NewTarget(risk.Kind(req.Kind), validation.SanitizeReference(req.Reference))
	if err != nil {
		writeError(c, err)
		return
	}

	depth := req.Depth
	if depth == 0 {
		depth = s.cfg.GraphDepth
	}

	graph, err := s.analyzer.Analyze(c.Request.Context(), center, depth, req.MinEdgeWeight)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

type subscribeRequest struct {
	Targets         []dispatch.TargetRequest `json:"targets"`
	IntervalSeconds int                      `json:"intervalSeconds"`
	RiskThreshold   float64                  `json:"riskThreshold"`
	Channels        []string                 `json:"channels,omitempty"`
}

// subscriptionResponse augments a subscription snapshot with its channel
// names, which do not serialize from the subscription itself.
type subscriptionResponse struct {
	*monitor.Subscription
	Channels        []string `json:"channels"`
	IntervalSeconds float64  `json:"intervalSeconds"`
}

func toSubscriptionResponse(sub *monitor.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Subscription:    sub,
		Channels:        sub.ChannelNames(),
		IntervalSeconds: sub.Interval.Seconds(),
	}
}

func (s *Server) subscribeHandler(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}

	if errs := validation.Validate(
		validation.MaxItems("targets", len(req.Targets), validation.MaxBatchTargets),
		validation.ValidThreshold("riskThreshold", req.RiskThreshold),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	watched := make([]risk.Target, 0, len(req.Targets))
	for _, tr := range req.Targets {
		target, err := risk.NewTarget(tr.Kind, validation.SanitizeReference(tr.Reference))
		if err != nil {
			writeError(c, err)
			return
		}
		watched = append(watched, target)
	}

	channels, err := s.resolveChannels(req.Channels)
	if err != nil {
		badRequest(c, "invalid_channel", err.Error())
		return
	}

	interval := time.Duration(req.IntervalSeconds) * time.Second
	id, err := s.mon.Subscribe(watched, interval, req.RiskThreshold, channels)
	if err != nil {
		writeError(c, err)
		return
	}

	sub, err := s.mon.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
}

// resolveChannels maps channel names to delivery channels. An empty list
// defaults to structured logging plus the websocket hub.
func (s *Server) resolveChannels(names []string) ([]monitor.NotificationChannel, error) {
	if len(names) == 0 {
		return []monitor.NotificationChannel{
			&monitor.LogChannel{Log: s.log},
			realtime.NewAlertChannel(s.hub),
		}, nil
	}

	channels := make([]monitor.NotificationChannel, 0, len(names))
	for _, name := range names {
		switch name {
		case "log":
			channels = append(channels, &monitor.LogChannel{Log: s.log})
		case "realtime":
			channels = append(channels, realtime.NewAlertChannel(s.hub))
		case "webhook":
			if s.cfg.AlertWebhookURL == "" {
				return nil, errUnconfiguredWebhook
			}
			channels = append(channels, monitor.NewWebhookChannel(s.cfg.AlertWebhookURL, s.cfg.WebhookSecret))
		default:
			return nil, &unknownChannelError{name: name}
		}
	}
	return channels, nil
}

func (s *Server) listSubscriptionsHandler(c *gin.Context) {
	subs := s.mon.List()
	resp := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubscriptionResponse(sub))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": resp, "count": len(resp)})
}

func (s *Server) getSubscriptionHandler(c *gin.Context) {
	sub, err := s.mon.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Server) unsubscribeHandler(c *gin.Context) {
	// Unsubscribe is idempotent: unknown ids succeed.
	if err := s.mon.Unsubscribe(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed", "id": c.Param("id")})
}

func (s *Server) pauseSubscriptionHandler(c *gin.Context) {
	if err := s.mon.Pause(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused", "id": c.Param("id")})
}

func (s *Server) resumeSubscriptionHandler(c *gin.Context) {
	if err := s.mon.Resume(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active", "id": c.Param("id")})
}

func (s *Server) recentVerdictsHandler(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	verdicts := s.cache.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"verdicts": verdicts, "count": len(verdicts)})
}

func (s *Server) verdictHistoryHandler(c *gin.Context) {
	kind := c.Query("kind")
	reference := c.Query("reference")
	if errs := validation.Validate(
		validation.Required("kind", kind),
		validation.ValidKind("kind", kind),
		validation.Required("reference", reference),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	target, err := risk.NewTarget(risk.Kind(kind), validation.SanitizeReference(reference))
	if err != nil {
		writeError(c, err)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	verdicts, err := s.store.ListByTarget(c.Request.Context(), target, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdicts": verdicts, "count": len(verdicts)})
}

func (s *Server) verdictStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cached":        s.cache.Size(),
		"capacity":      s.cache.Capacity(),
		"highOrAbove":   s.cache.CountAbove(0.50),
		"criticalCount": s.cache.CountAbove(0.75),
		"subscriptions": len(s.mon.List()),
		"realtime":      s.hub.Stats(),
	})
}
